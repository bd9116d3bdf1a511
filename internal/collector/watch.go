package collector

import (
	"context"
	"time"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/deceptionops/deception-backend/internal/models"
)

const (
	// The server ends each watch after this long; the loop re-opens it.
	watchTimeoutSeconds = int64(60)

	watchRetryBackoff = 3 * time.Second
)

// RunPodWatch streams pod lifecycle changes from the cluster, dispatches
// each as a pod_update event, and re-publishes it on the pod_status
// channel for other consumers. Blocks until ctx is cancelled.
func (c *Collector) RunPodWatch(ctx context.Context) {
	for {
		if err := c.watchOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("pod watch error", "error", err, "retry_in", watchRetryBackoff.String())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(watchRetryBackoff):
		}
	}
}

func (c *Collector) watchOnce(ctx context.Context) error {
	// Rate-limited like every other outbound call, but no call timeout:
	// the watch is long-lived and bounded server-side.
	if err := c.client.WaitRateLimit(ctx); err != nil {
		return err
	}
	timeout := watchTimeoutSeconds
	watcher, err := c.client.Clientset.CoreV1().Pods(metav1.NamespaceAll).Watch(ctx, metav1.ListOptions{
		TimeoutSeconds: &timeout,
	})
	if err != nil {
		return err
	}
	defer watcher.Stop()

	for watchEvent := range watcher.ResultChan() {
		event := c.buildPodUpdateEvent(watchEvent)
		if event == nil {
			continue
		}

		c.markLocalEventID(event.EventID)
		c.Dispatch(podUpdateToStreamEvent(*event))
		c.publisher.Publish(ctx, models.ChannelPodStatus, event)
	}
	// Server-side timeout; the caller re-opens the watch.
	return nil
}

// buildPodUpdateEvent converts one watch delivery into the stream shape.
// Non-pod objects (e.g. Status on watch errors) are skipped.
func (c *Collector) buildPodUpdateEvent(watchEvent watch.Event) *models.PodUpdateEvent {
	pod, ok := watchEvent.Object.(*corev1.Pod)
	if !ok {
		return nil
	}

	labels := pod.Labels
	if labels == nil {
		labels = map[string]string{}
	}

	status := string(pod.Status.Phase)
	if status == "" {
		status = "Unknown"
	}

	return &models.PodUpdateEvent{
		EventID:   uuid.New().String(),
		EventType: "pod_update",
		WatchType: string(watchEvent.Type),
		PodName:   pod.Name,
		Namespace: pod.Namespace,
		Status:    status,
		Labels:    labels,
		IP:        pod.Status.PodIP,
		Node:      pod.Spec.NodeName,
		Timestamp: c.now().UTC().Format(time.RFC3339Nano),
		Source:    "event-collector",
	}
}

func podUpdateToStreamEvent(e models.PodUpdateEvent) models.Event {
	return models.Event{
		"event_id":   e.EventID,
		"event_type": e.EventType,
		"watch_type": e.WatchType,
		"pod_name":   e.PodName,
		"namespace":  e.Namespace,
		"status":     e.Status,
		"labels":     e.Labels,
		"ip":         e.IP,
		"node":       e.Node,
		"timestamp":  e.Timestamp,
		"source":     e.Source,
	}
}
