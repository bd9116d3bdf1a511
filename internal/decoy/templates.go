// Package decoy generates the Kubernetes resources for honeypot pod
// sets. A decoy set is 3 pods (frontend, API, database) plus a ClusterIP
// Service per pod, labeled so the controller can bulk-manage them by
// attack id and deduplicate by attacker IP.
package decoy

import (
	"strconv"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
)

// Label and annotation keys shared with the controller and collector.
const (
	LabelRole       = "role"
	LabelAttackID   = "attack-id"
	LabelDecoyType  = "decoy-type"
	LabelAttackerIP = "attacker-ip"

	RoleDecoy = "decoy"

	AnnCreatedAt  = "deception-system/created-at"
	AnnAttackType = "deception-system/attack-type"
	AnnTTLMinutes = "deception-system/ttl-minutes"
	AnnAttackID   = "deception-system/attack-id"
	AnnAttackerIP = "deception-system/attacker-ip"
)

// Decoy service ports, shared with the traffic-router contract.
const (
	FrontendPort = 3000
	APIPort      = 8081
	DBPort       = 5432
)

// Config parameterizes template generation.
type Config struct {
	Namespace  string
	RedisURL   string
	TTLMinutes int

	// Now overrides the clock used for the created-at annotation.
	Now func() time.Time
}

// Set is one generated decoy set, creation-ready.
type Set struct {
	Pods     []*corev1.Pod
	Services []*corev1.Service
}

// PodNames returns the pod names in creation order (fe, api, db).
func (s Set) PodNames() []string {
	names := make([]string, len(s.Pods))
	for i, p := range s.Pods {
		names[i] = p.Name
	}
	return names
}

// ServiceNames returns the service names in creation order.
func (s Set) ServiceNames() []string {
	names := make([]string, len(s.Services))
	for i, svc := range s.Services {
		names[i] = svc.Name
	}
	return names
}

// ShortID derives the 8-char set identifier from an attack id.
func ShortID(attackID string) string {
	if len(attackID) > 8 {
		return attackID[:8]
	}
	return attackID
}

// SanitizeIP makes an attacker IP safe for label values. Dots are
// allowed; IPv6 colons are not.
func SanitizeIP(ip string) string {
	return strings.ReplaceAll(ip, ":", "-")
}

type podParams struct {
	name       string
	image      string
	port       int32
	decoyType  string
	limits     corev1.ResourceList
	requests   corev1.ResourceList
	extraEnv   []corev1.EnvVar
	httpProbes bool
}

// NewSet generates the 3 pods and 3 services for an attack event. Pure:
// nothing is created in the cluster.
func NewSet(cfg Config, attackID, attackerIP, attackType string) Set {
	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}
	shortID := ShortID(attackID)
	safeIP := SanitizeIP(attackerIP)
	createdAt := now().UTC().Format(time.RFC3339Nano)

	params := []podParams{
		{
			name:       "decoy-fe-" + shortID,
			image:      "deception/decoy-frontend:latest",
			port:       FrontendPort,
			decoyType:  "frontend",
			limits:     resourceList("96Mi", "50m"),
			requests:   resourceList("32Mi", "25m"),
			httpProbes: true,
		},
		{
			name:       "decoy-api-" + shortID,
			image:      "deception/decoy-api:latest",
			port:       APIPort,
			decoyType:  "api",
			limits:     resourceList("96Mi", "50m"),
			requests:   resourceList("32Mi", "25m"),
			httpProbes: true,
		},
		{
			name:      "decoy-db-" + shortID,
			image:     "deception/decoy-db:latest",
			port:      DBPort,
			decoyType: "database",
			limits:    resourceList("64Mi", "100m"),
			requests:  resourceList("48Mi", "50m"),
			extraEnv: []corev1.EnvVar{
				{Name: "POSTGRES_DB", Value: "ecommerce"},
				{Name: "POSTGRES_USER", Value: "appuser"},
				{Name: "POSTGRES_PASSWORD", Value: "d3c0y-Tr4p-2024"},
			},
		},
	}

	var set Set
	for _, p := range params {
		set.Pods = append(set.Pods, makePod(cfg, p, attackID, shortID, safeIP, attackType, createdAt))
		set.Services = append(set.Services, makeService(cfg.Namespace, p, shortID, safeIP))
	}
	return set
}

func makePod(cfg Config, p podParams, attackID, shortID, safeIP, attackType, createdAt string) *corev1.Pod {
	env := append([]corev1.EnvVar{
		{Name: "DECOY_ID", Value: p.decoyType + "-" + shortID},
		{Name: "ATTACK_ID", Value: attackID},
		{Name: "ATTACKER_IP", Value: safeIP},
		{Name: "REDIS_URL", Value: cfg.RedisURL},
	}, p.extraEnv...)

	container := corev1.Container{
		Name:            p.name,
		Image:           p.image,
		ImagePullPolicy: corev1.PullNever,
		Ports: []corev1.ContainerPort{
			{ContainerPort: p.port, Protocol: corev1.ProtocolTCP},
		},
		Env: env,
		Resources: corev1.ResourceRequirements{
			Requests: p.requests,
			Limits:   p.limits,
		},
	}

	if p.httpProbes {
		probe := &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				HTTPGet: &corev1.HTTPGetAction{
					Path: "/health",
					Port: intstr.FromInt32(p.port),
				},
			},
			InitialDelaySeconds: 5,
			PeriodSeconds:       5,
			TimeoutSeconds:      2,
			FailureThreshold:    6,
		}
		container.ReadinessProbe = probe
		container.LivenessProbe = probe
		container.StartupProbe = &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				HTTPGet: &corev1.HTTPGetAction{
					Path: "/health",
					Port: intstr.FromInt32(p.port),
				},
			},
			PeriodSeconds:    2,
			TimeoutSeconds:   2,
			FailureThreshold: 45,
		}
	} else {
		probe := &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				TCPSocket: &corev1.TCPSocketAction{
					Port: intstr.FromInt32(p.port),
				},
			},
			InitialDelaySeconds: 5,
			PeriodSeconds:       5,
			TimeoutSeconds:      2,
			FailureThreshold:    6,
		}
		container.ReadinessProbe = probe
		container.LivenessProbe = probe
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      p.name,
			Namespace: cfg.Namespace,
			Labels:    decoyLabels(p.name, shortID, p.decoyType, safeIP),
			Annotations: map[string]string{
				AnnCreatedAt:  createdAt,
				AnnAttackType: attackType,
				AnnTTLMinutes: strconv.Itoa(cfg.TTLMinutes),
				AnnAttackID:   attackID,
				AnnAttackerIP: safeIP,
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyAlways,
			Containers:    []corev1.Container{container},
		},
	}
}

func makeService(namespace string, p podParams, shortID, safeIP string) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      p.name,
			Namespace: namespace,
			Labels:    decoyLabels(p.name, shortID, p.decoyType, safeIP),
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: map[string]string{"app": p.name},
			Ports: []corev1.ServicePort{
				{
					Port:       p.port,
					TargetPort: intstr.FromInt32(p.port),
					Protocol:   corev1.ProtocolTCP,
				},
			},
		},
	}
}

func decoyLabels(name, shortID, decoyType, safeIP string) map[string]string {
	return map[string]string{
		"app":                         name,
		LabelRole:                     RoleDecoy,
		LabelAttackID:                 shortID,
		LabelDecoyType:                decoyType,
		LabelAttackerIP:               safeIP,
		"app.kubernetes.io/part-of":   "deception-system",
		"app.kubernetes.io/component": "decoy-" + decoyType,
	}
}

func resourceList(memory, cpu string) corev1.ResourceList {
	return corev1.ResourceList{
		corev1.ResourceMemory: resource.MustParse(memory),
		corev1.ResourceCPU:    resource.MustParse(cpu),
	}
}

