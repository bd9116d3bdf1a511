package decoy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
)

func testConfig() Config {
	return Config{
		Namespace:  "decoy-pool",
		RedisURL:   "redis://redis.monitoring.svc.cluster.local:6379",
		TTLMinutes: 10,
		Now: func() time.Time {
			return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		},
	}
}

func TestNewSetShape(t *testing.T) {
	set := NewSet(testConfig(), "a1b2c3d4-e5f6-7890-abcd-ef0123456789", "192.168.1.100", "sqli")

	require.Len(t, set.Pods, 3)
	require.Len(t, set.Services, 3)
	assert.Equal(t, []string{"decoy-fe-a1b2c3d4", "decoy-api-a1b2c3d4", "decoy-db-a1b2c3d4"}, set.PodNames())
	assert.Equal(t, set.PodNames(), set.ServiceNames())
}

func TestNewSetLabelsAndAnnotations(t *testing.T) {
	attackID := "a1b2c3d4-e5f6-7890-abcd-ef0123456789"
	set := NewSet(testConfig(), attackID, "192.168.1.100", "sqli")

	for _, pod := range set.Pods {
		assert.Equal(t, "decoy-pool", pod.Namespace)
		assert.Equal(t, RoleDecoy, pod.Labels[LabelRole])
		assert.Equal(t, "a1b2c3d4", pod.Labels[LabelAttackID])
		assert.Equal(t, "192.168.1.100", pod.Labels[LabelAttackerIP])
		assert.Equal(t, pod.Name, pod.Labels["app"])
		assert.Equal(t, "deception-system", pod.Labels["app.kubernetes.io/part-of"])

		assert.Equal(t, attackID, pod.Annotations[AnnAttackID])
		assert.Equal(t, "sqli", pod.Annotations[AnnAttackType])
		assert.Equal(t, "10", pod.Annotations[AnnTTLMinutes])
		assert.Equal(t, "2026-03-01T12:00:00Z", pod.Annotations[AnnCreatedAt])
	}

	types := []string{"frontend", "api", "database"}
	for i, pod := range set.Pods {
		assert.Equal(t, types[i], pod.Labels[LabelDecoyType])
	}
}

func TestNewSetSanitizesIPv6(t *testing.T) {
	set := NewSet(testConfig(), "deadbeef-0000", "2001:db8::1", "xss")

	for _, pod := range set.Pods {
		assert.Equal(t, "2001-db8--1", pod.Labels[LabelAttackerIP])
		assert.Equal(t, "2001-db8--1", pod.Annotations[AnnAttackerIP])
	}
	// Full attack id stays unsanitized in its annotation.
	assert.Equal(t, "deadbeef", set.Pods[0].Labels[LabelAttackID])
}

func TestNewSetPorts(t *testing.T) {
	set := NewSet(testConfig(), "a1b2c3d4e5", "10.0.0.1", "recon_scanning")

	ports := []int32{FrontendPort, APIPort, DBPort}
	for i, pod := range set.Pods {
		require.Len(t, pod.Spec.Containers, 1)
		assert.Equal(t, ports[i], pod.Spec.Containers[0].Ports[0].ContainerPort)
		assert.Equal(t, ports[i], set.Services[i].Spec.Ports[0].Port)
		assert.Equal(t, corev1.ServiceTypeClusterIP, set.Services[i].Spec.Type)
		assert.Equal(t, pod.Name, set.Services[i].Spec.Selector["app"])
	}
}

func TestNewSetProbes(t *testing.T) {
	set := NewSet(testConfig(), "a1b2c3d4e5", "10.0.0.1", "sqli")

	fe := set.Pods[0].Spec.Containers[0]
	require.NotNil(t, fe.ReadinessProbe)
	require.NotNil(t, fe.ReadinessProbe.HTTPGet)
	assert.Equal(t, "/health", fe.ReadinessProbe.HTTPGet.Path)
	require.NotNil(t, fe.StartupProbe)
	assert.EqualValues(t, 45, fe.StartupProbe.FailureThreshold)

	db := set.Pods[2].Spec.Containers[0]
	require.NotNil(t, db.ReadinessProbe)
	assert.Nil(t, db.ReadinessProbe.HTTPGet)
	require.NotNil(t, db.ReadinessProbe.TCPSocket)
	assert.Nil(t, db.StartupProbe)
}

func TestNewSetEnvAndResources(t *testing.T) {
	set := NewSet(testConfig(), "a1b2c3d4e5f6", "10.0.0.2", "brute_force")

	envOf := func(c corev1.Container) map[string]string {
		m := make(map[string]string)
		for _, e := range c.Env {
			m[e.Name] = e.Value
		}
		return m
	}

	fe := envOf(set.Pods[0].Spec.Containers[0])
	assert.Equal(t, "frontend-a1b2c3d4", fe["DECOY_ID"])
	assert.Equal(t, "a1b2c3d4e5f6", fe["ATTACK_ID"])
	assert.Equal(t, "10.0.0.2", fe["ATTACKER_IP"])
	assert.NotEmpty(t, fe["REDIS_URL"])
	assert.NotContains(t, fe, "POSTGRES_DB")

	db := envOf(set.Pods[2].Spec.Containers[0])
	assert.Equal(t, "ecommerce", db["POSTGRES_DB"])
	assert.Equal(t, "appuser", db["POSTGRES_USER"])
	assert.NotEmpty(t, db["POSTGRES_PASSWORD"])

	// Database pod gets more CPU for postgres overhead.
	dbCPU := set.Pods[2].Spec.Containers[0].Resources.Limits.Cpu()
	feCPU := set.Pods[0].Spec.Containers[0].Resources.Limits.Cpu()
	assert.Equal(t, 1, dbCPU.Cmp(*feCPU))
}

func TestShortIDHandlesShortInput(t *testing.T) {
	assert.Equal(t, "abc", ShortID("abc"))
	assert.Equal(t, "12345678", ShortID("123456789"))
}
