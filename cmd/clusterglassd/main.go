package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/clusterglass/clusterglass/internal/commandsurface"
	"github.com/clusterglass/clusterglass/internal/configloader"
	"github.com/clusterglass/clusterglass/internal/debugserver"
	"github.com/clusterglass/clusterglass/internal/discovery"
	"github.com/clusterglass/clusterglass/internal/gateway"
	"github.com/clusterglass/clusterglass/internal/multiplexer"
)

var version = "dev"

func main() {
	kubeconfig := flag.String("kubeconfig", "", "Path to kubeconfig file (default: ~/.kube/config)")
	debugPort := flag.Int("debug-port", 9281, "Debug/introspection HTTP server port")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("clusterglassd %s\n", version)
		os.Exit(0)
	}

	// Suppress verbose client-go logs (reflector errors, traces, etc.)
	klog.InitFlags(nil)
	_ = flag.Set("v", "0")
	_ = flag.Set("logtostderr", "false")
	_ = flag.Set("alsologtostderr", "false")
	klog.SetOutput(os.Stderr)

	log.Printf("clusterglassd %s starting...", version)

	loader, err := configloader.Load(configloader.Options{KubeconfigPath: *kubeconfig})
	if err != nil {
		log.Fatalf("Failed to load kubeconfig: %v", err)
	}
	log.Printf("Using context: %s", loader.Current())

	restConfig, err := loader.RestConfigFor(loader.Current())
	if err != nil {
		log.Fatalf("Failed to build client config: %v", err)
	}

	gw, err := gateway.New(restConfig)
	if err != nil {
		log.Fatalf("Failed to build cluster gateway: %v", err)
	}

	if err := checkClusterAccess(gw, loader.Current()); err != nil {
		os.Exit(1)
	}

	disco := discovery.New(gw.Discovery())
	if err := disco.Refresh(); err != nil {
		log.Printf("Warning: initial API resource discovery failed: %v", err)
	}

	registry := multiplexer.New(gw, disco)
	surface := commandsurface.New(loader, registry)
	dbgSrv := debugserver.New(surface)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *debugPort),
		Handler: dbgSrv.Handler(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(ctx)
		os.Exit(0)
	}()

	log.Printf("Debug/introspection surface listening on %s", httpSrv.Addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Debug server error: %v", err)
	}
}

// checkClusterAccess verifies connectivity to the cluster before the
// multiplexer starts accepting start-listen calls, printing a user-friendly
// hint for common authentication/connection failures.
func checkClusterAccess(gw *gateway.Gateway, contextName string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := gw.ServerVersion(ctx)
	if err == nil {
		return nil
	}
	return reportClusterAccessError(err, contextName)
}

func reportClusterAccessError(err error, contextName string) error {
	errLower := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errLower, "unauthorized"),
		strings.Contains(errLower, "forbidden"),
		strings.Contains(errLower, "authentication required"),
		strings.Contains(errLower, "token has expired"),
		strings.Contains(errLower, "credentials"),
		strings.Contains(errLower, "exec plugin"),
		strings.Contains(errLower, "gke-gcloud-auth-plugin"):

		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Cluster authentication failed")
		fmt.Fprintln(os.Stderr, "")
		switch {
		case strings.Contains(errLower, "gke") || strings.Contains(errLower, "gcloud"):
			fmt.Fprintln(os.Stderr, "  This looks like a GKE cluster. Try:")
			fmt.Fprintln(os.Stderr, "    gcloud container clusters get-credentials <cluster-name> --region <region>")
		case strings.Contains(errLower, "eks"):
			fmt.Fprintln(os.Stderr, "  This looks like an EKS cluster. Try:")
			fmt.Fprintln(os.Stderr, "    aws eks update-kubeconfig --name <cluster-name> --region <region>")
		case strings.Contains(errLower, "aks"):
			fmt.Fprintln(os.Stderr, "  This looks like an AKS cluster. Try:")
			fmt.Fprintln(os.Stderr, "    az aks get-credentials --name <cluster-name> --resource-group <rg>")
		default:
			fmt.Fprintln(os.Stderr, "  Your cluster credentials may have expired or are invalid.")
		}
		fmt.Fprintf(os.Stderr, "  Context: %s\n", contextName)
		fmt.Fprintln(os.Stderr, "")
		return fmt.Errorf("authentication failed")

	case strings.Contains(errLower, "connection refused"),
		strings.Contains(errLower, "no such host"),
		strings.Contains(errLower, "i/o timeout"),
		strings.Contains(errLower, "context deadline exceeded"),
		strings.Contains(errLower, "dial tcp"),
		strings.Contains(errLower, "tls handshake timeout"):

		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Cannot connect to Kubernetes cluster")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "  Possible causes:")
		fmt.Fprintln(os.Stderr, "    - Cluster is not running or unreachable")
		fmt.Fprintln(os.Stderr, "    - VPN required but not connected")
		fmt.Fprintln(os.Stderr, "    - kubeconfig points to wrong cluster")
		fmt.Fprintf(os.Stderr, "  Context: %s\n", contextName)
		fmt.Fprintln(os.Stderr, "")
		return fmt.Errorf("connection failed")

	default:
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Failed to access Kubernetes cluster")
		fmt.Fprintf(os.Stderr, "  Error: %s\n", err)
		fmt.Fprintln(os.Stderr, "")
		return fmt.Errorf("cluster access failed")
	}
}
