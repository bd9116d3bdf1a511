// Package k8s wraps client-go for the deception plane: client bootstrap
// (in-cluster first, kubeconfig fallback), bounded retry for transient
// API errors, and quota classification for the controller's capacity
// handling.
package k8s

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/client-go/kubernetes"
	restclient "k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const defaultCallTimeout = 30 * time.Second

// Client wraps the Kubernetes clientset with an optional outbound rate
// limiter and per-call timeout.
type Client struct {
	Clientset kubernetes.Interface
	Config    *restclient.Config

	// Timeout for outbound API calls; 0 means request context only.
	Timeout time.Duration
	limiter *rate.Limiter
}

// NewClient builds a client, preferring in-cluster config and falling
// back to the given kubeconfig path (or ~/.kube/config when empty).
func NewClient(kubeconfigPath string) (*Client, error) {
	config, err := restclient.InClusterConfig()
	if err != nil {
		if kubeconfigPath == "" {
			homeDir, _ := os.UserHomeDir()
			if homeDir != "" {
				kubeconfigPath = filepath.Join(homeDir, ".kube", "config")
			}
		}
		config, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			&clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfigPath},
			&clientcmd.ConfigOverrides{},
		).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	return &Client{Clientset: clientset, Config: config, Timeout: defaultCallTimeout}, nil
}

// NewClientForTest wraps a fake clientset. Config is nil.
func NewClientForTest(clientset kubernetes.Interface) *Client {
	return &Client{Clientset: clientset}
}

// SetLimiter installs a token-bucket limiter for outbound API calls.
func (c *Client) SetLimiter(l *rate.Limiter) {
	c.limiter = l
}

func (c *Client) WaitRateLimit(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// WithTimeout applies the client timeout if set; otherwise returns ctx
// with a no-op cancel.
func (c *Client) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout > 0 {
		return context.WithTimeout(ctx, c.Timeout)
	}
	return ctx, func() {}
}

// Call runs one outbound API call: it waits for the rate limiter, then
// invokes fn with the call timeout applied. All cluster I/O goes
// through Call or CallWithRetry.
func (c *Client) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.WaitRateLimit(ctx); err != nil {
		return err
	}
	callCtx, cancel := c.WithTimeout(ctx)
	defer cancel()
	return fn(callCtx)
}

// CallWithRetry is Call with bounded retry on transient API errors. The
// limiter is consulted before every attempt, so retries stay throttled.
func (c *Client) CallWithRetry(ctx context.Context, maxAttempts int, fn func(ctx context.Context) error) error {
	return DoWithRetry(ctx, maxAttempts, func() error {
		return c.Call(ctx, fn)
	})
}
