package collector

import (
	"context"
	"time"

	"github.com/deceptionops/deception-backend/internal/models"
	"github.com/deceptionops/deception-backend/internal/pkg/metrics"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// knownServiceConnections are the static service dependencies drawn when
// both endpoints exist in the snapshot: (src ns, src svc, dst ns, dst svc).
var knownServiceConnections = [][4]string{
	{"ecommerce-real", "frontend", "ecommerce-real", "product-service"},
	{"ecommerce-real", "frontend", "ecommerce-real", "cart-service"},
	{"ecommerce-real", "product-service", "ecommerce-real", "postgres"},
	{"ecommerce-real", "cart-service", "ecommerce-real", "postgres"},
	{"deception-gateway", "traffic-router", "deception-gateway", "traffic-analyzer"},
	{"deception-gateway", "traffic-router", "ecommerce-real", "frontend"},
	{"deception-gateway", "traffic-analyzer", "monitoring", "redis"},
	{"deception-gateway", "deception-controller", "monitoring", "redis"},
	{"monitoring", "event-collector", "monitoring", "redis"},
}

const trafficRouterNodeID = "service:deception-gateway:traffic-router"

// RunSnapshotLoop emits a full topology rebuild every graph interval,
// compensating for build time with a 1s floor. Blocks until ctx is
// cancelled.
func (c *Collector) RunSnapshotLoop(ctx context.Context) {
	for {
		started := time.Now()
		snapshot := c.BuildGraphSnapshot(ctx)
		c.Dispatch(snapshotToStreamEvent(snapshot))
		metrics.GraphSnapshotDurationSeconds.Observe(time.Since(started).Seconds())

		delay := c.opts.GraphInterval - time.Since(started)
		if delay < time.Second {
			delay = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// BuildGraphSnapshot lists pods and services in the monitored namespaces
// and assembles nodes plus selector, dependency, and attacker-route
// edges. List failures for one namespace degrade the snapshot rather
// than fail it.
func (c *Collector) BuildGraphSnapshot(ctx context.Context) models.GraphSnapshotEvent {
	snapshot := models.GraphSnapshotEvent{
		EventType: "graph_snapshot",
		Timestamp: c.now().UTC().Format(time.RFC3339Nano),
		Nodes:     []models.TopologyNode{},
		Edges:     []models.TopologyEdge{},
	}

	if c.client == nil || c.client.Clientset == nil {
		snapshot.Error = "kubernetes_unavailable"
		return snapshot
	}

	var allPods []corev1.Pod
	var allServices []corev1.Service
	podsByNamespace := make(map[string][]corev1.Pod)

	for _, namespace := range c.opts.MonitoredNamespaces {
		namespace := namespace
		var pods *corev1.PodList
		err := c.client.Call(ctx, func(callCtx context.Context) error {
			var err error
			pods, err = c.client.Clientset.CoreV1().Pods(namespace).List(callCtx, metav1.ListOptions{})
			return err
		})
		if err != nil {
			c.log.Warn("snapshot pod list failed", "namespace", namespace, "error", err)
			continue
		}
		var services *corev1.ServiceList
		err = c.client.Call(ctx, func(callCtx context.Context) error {
			var err error
			services, err = c.client.Clientset.CoreV1().Services(namespace).List(callCtx, metav1.ListOptions{})
			return err
		})
		if err != nil {
			c.log.Warn("snapshot service list failed", "namespace", namespace, "error", err)
			continue
		}
		podsByNamespace[namespace] = pods.Items
		allPods = append(allPods, pods.Items...)
		allServices = append(allServices, services.Items...)
	}

	nodeIndex := make(map[string]bool)

	for i := range allPods {
		pod := &allPods[i]
		labels := pod.Labels
		if labels == nil {
			labels = map[string]string{}
		}
		status := string(pod.Status.Phase)
		if status == "" {
			status = "Unknown"
		}
		node := models.TopologyNode{
			ID:        podNodeID(pod.Namespace, pod.Name),
			Name:      pod.Name,
			Namespace: pod.Namespace,
			Type:      "pod",
			Role:      inferRole(pod.Namespace, labels),
			Status:    status,
			Labels:    labels,
		}
		snapshot.Nodes = append(snapshot.Nodes, node)
		nodeIndex[node.ID] = true
	}

	for i := range allServices {
		svc := &allServices[i]
		labels := svc.Labels
		if labels == nil {
			labels = map[string]string{}
		}
		status := "Active"
		if svc.DeletionTimestamp != nil {
			status = "Terminating"
		}
		node := models.TopologyNode{
			ID:        serviceNodeID(svc.Namespace, svc.Name),
			Name:      svc.Name,
			Namespace: svc.Namespace,
			Type:      "service",
			Role:      inferRole(svc.Namespace, labels),
			Status:    status,
			Labels:    labels,
		}
		snapshot.Nodes = append(snapshot.Nodes, node)
		nodeIndex[node.ID] = true
	}

	edgeKeys := make(map[string]bool)
	addEdge := func(edge models.TopologyEdge) {
		key := edge.Source + "|" + edge.Target + "|" + edge.Type + "|" + edge.AttackerIP
		if edgeKeys[key] {
			return
		}
		edgeKeys[key] = true
		snapshot.Edges = append(snapshot.Edges, edge)
	}

	// Service -> pod edges where the selector is a subset of pod labels.
	for i := range allServices {
		svc := &allServices[i]
		selector := svc.Spec.Selector
		if len(selector) == 0 {
			continue
		}
		svcID := serviceNodeID(svc.Namespace, svc.Name)
		for j := range podsByNamespace[svc.Namespace] {
			pod := &podsByNamespace[svc.Namespace][j]
			if labelsMatch(selector, pod.Labels) {
				addEdge(models.TopologyEdge{
					Source: svcID,
					Target: podNodeID(pod.Namespace, pod.Name),
					Type:   models.EdgeServiceSelector,
				})
			}
		}
	}

	for _, conn := range knownServiceConnections {
		srcID := serviceNodeID(conn[0], conn[1])
		dstID := serviceNodeID(conn[2], conn[3])
		if nodeIndex[srcID] && nodeIndex[dstID] {
			addEdge(models.TopologyEdge{
				Source: srcID,
				Target: dstID,
				Type:   models.EdgeServiceDependency,
			})
		}
	}

	for attackerIP, r := range c.attackerRoutesSnapshot() {
		targetID := endpointToServiceID(r.TargetEndpoint)
		if targetID == "" || !nodeIndex[trafficRouterNodeID] || !nodeIndex[targetID] {
			continue
		}
		addEdge(models.TopologyEdge{
			Source:     trafficRouterNodeID,
			Target:     targetID,
			Type:       models.EdgeAttackerRoute,
			AttackerIP: attackerIP,
		})
	}

	snapshot.Summary = &models.GraphSummary{
		Namespaces:   c.opts.MonitoredNamespaces,
		PodCount:     len(allPods),
		ServiceCount: len(allServices),
	}
	return snapshot
}

// labelsMatch reports whether every selector key/value appears in labels.
func labelsMatch(selector, labels map[string]string) bool {
	for k, v := range selector {
		if labels[k] != v {
			return false
		}
	}
	return true
}

func snapshotToStreamEvent(s models.GraphSnapshotEvent) models.Event {
	event := models.Event{
		"event_type": s.EventType,
		"timestamp":  s.Timestamp,
		"nodes":      s.Nodes,
		"edges":      s.Edges,
	}
	if s.Summary != nil {
		event["summary"] = s.Summary
	}
	if s.Error != "" {
		event["error"] = s.Error
	}
	return event
}
