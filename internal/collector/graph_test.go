package collector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/deceptionops/deception-backend/internal/models"
)

func pod(namespace, name string, labels map[string]string, phase corev1.PodPhase) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace, Labels: labels},
		Status:     corev1.PodStatus{Phase: phase},
	}
}

func service(namespace, name string, selector map[string]string) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Spec:       corev1.ServiceSpec{Selector: selector},
	}
}

func findEdges(edges []models.TopologyEdge, edgeType string) []models.TopologyEdge {
	var out []models.TopologyEdge
	for _, e := range edges {
		if e.Type == edgeType {
			out = append(out, e)
		}
	}
	return out
}

func TestBuildGraphSnapshotNodes(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		pod("ecommerce-real", "frontend-abc", map[string]string{"app": "frontend"}, corev1.PodRunning),
		pod("decoy-pool", "decoy-fe-xyz", map[string]string{"role": "decoy"}, corev1.PodPending),
		service("ecommerce-real", "frontend", map[string]string{"app": "frontend"}),
	)
	col, _ := newTestCollector(clientset)

	snapshot := col.BuildGraphSnapshot(context.Background())

	require.Len(t, snapshot.Nodes, 3)
	byID := make(map[string]models.TopologyNode)
	for _, n := range snapshot.Nodes {
		byID[n.ID] = n
	}

	podNode := byID["pod:ecommerce-real:frontend-abc"]
	assert.Equal(t, "pod", podNode.Type)
	assert.Equal(t, models.RoleReal, podNode.Role)
	assert.Equal(t, "Running", podNode.Status)

	decoyNode := byID["pod:decoy-pool:decoy-fe-xyz"]
	assert.Equal(t, models.RoleDecoy, decoyNode.Role)
	assert.Equal(t, "Pending", decoyNode.Status)

	svcNode := byID["service:ecommerce-real:frontend"]
	assert.Equal(t, "service", svcNode.Type)
	assert.Equal(t, "Active", svcNode.Status)

	require.NotNil(t, snapshot.Summary)
	assert.Equal(t, 2, snapshot.Summary.PodCount)
	assert.Equal(t, 1, snapshot.Summary.ServiceCount)
}

func TestBuildGraphSnapshotSelectorEdges(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		// Selector is a subset of the pod's labels.
		pod("ecommerce-real", "frontend-abc", map[string]string{"app": "frontend", "tier": "web"}, corev1.PodRunning),
		pod("ecommerce-real", "cart-abc", map[string]string{"app": "cart-service"}, corev1.PodRunning),
		service("ecommerce-real", "frontend", map[string]string{"app": "frontend"}),
		// Selectorless services draw no edges.
		service("ecommerce-real", "headless", nil),
	)
	col, _ := newTestCollector(clientset)

	snapshot := col.BuildGraphSnapshot(context.Background())

	selectorEdges := findEdges(snapshot.Edges, models.EdgeServiceSelector)
	require.Len(t, selectorEdges, 1)
	assert.Equal(t, "service:ecommerce-real:frontend", selectorEdges[0].Source)
	assert.Equal(t, "pod:ecommerce-real:frontend-abc", selectorEdges[0].Target)
}

func TestBuildGraphSnapshotDependencyEdges(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		service("ecommerce-real", "frontend", nil),
		service("ecommerce-real", "product-service", nil),
		// postgres absent: frontend->product-service is the only
		// dependency with both endpoints present.
	)
	col, _ := newTestCollector(clientset)

	snapshot := col.BuildGraphSnapshot(context.Background())

	deps := findEdges(snapshot.Edges, models.EdgeServiceDependency)
	require.Len(t, deps, 1)
	assert.Equal(t, "service:ecommerce-real:frontend", deps[0].Source)
	assert.Equal(t, "service:ecommerce-real:product-service", deps[0].Target)
}

func TestBuildGraphSnapshotAttackerRouteEdges(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		service("deception-gateway", "traffic-router", nil),
		service("decoy-pool", "decoy-fe-abc12345", nil),
	)
	col, _ := newTestCollector(clientset)

	col.HandleBusMessage(busJSON(t, models.ChannelRoutingUpdate, map[string]interface{}{
		"type":             "add_route",
		"attacker_ip":      "192.168.1.100",
		"attack_id":        "abc12345",
		"frontend_service": "decoy-fe-abc12345.decoy-pool.svc.cluster.local:3000",
	}))

	snapshot := col.BuildGraphSnapshot(context.Background())

	routeEdges := findEdges(snapshot.Edges, models.EdgeAttackerRoute)
	require.Len(t, routeEdges, 1)
	assert.Equal(t, trafficRouterNodeID, routeEdges[0].Source)
	assert.Equal(t, "service:decoy-pool:decoy-fe-abc12345", routeEdges[0].Target)
	assert.Equal(t, "192.168.1.100", routeEdges[0].AttackerIP)
}

func TestBuildGraphSnapshotAttackerRouteSkippedWhenTargetMissing(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		service("deception-gateway", "traffic-router", nil),
	)
	col, _ := newTestCollector(clientset)

	col.HandleBusMessage(busJSON(t, models.ChannelRoutingUpdate, map[string]interface{}{
		"type":             "add_route",
		"attacker_ip":      "192.168.1.101",
		"frontend_service": "decoy-fe-gone.decoy-pool.svc.cluster.local:3000",
	}))

	snapshot := col.BuildGraphSnapshot(context.Background())
	assert.Empty(t, findEdges(snapshot.Edges, models.EdgeAttackerRoute))
}

func TestBuildGraphSnapshotWithoutCluster(t *testing.T) {
	col, _ := newTestCollector(nil)

	snapshot := col.BuildGraphSnapshot(context.Background())
	assert.Equal(t, "kubernetes_unavailable", snapshot.Error)
	assert.Empty(t, snapshot.Nodes)
	assert.Empty(t, snapshot.Edges)
}
