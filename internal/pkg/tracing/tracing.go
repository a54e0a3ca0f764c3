package tracing

import (
	"context"
	"log"
	"os"
	"sync/atomic"

	"github.com/aws/aws-xray-sdk-go/xray"
)

var enabled atomic.Bool

// Configure turns on X-Ray segments for this process.
func Configure(serviceVersion string) error {
	addr := os.Getenv("AWS_XRAY_DAEMON_ADDRESS")
	if addr == "" {
		addr = "127.0.0.1:2000"
	}
	if err := xray.Configure(xray.Config{
		DaemonAddr:     addr,
		ServiceVersion: serviceVersion,
	}); err != nil {
		log.Printf("level=warn msg=xray configure failed, using defaults err=%v", err)
		if err := xray.Configure(xray.Config{}); err != nil {
			return err
		}
	}
	os.Setenv("AWS_XRAY_CONTEXT_MISSING", "LOG_ERROR")
	enabled.Store(true)
	return nil
}

func Enabled() bool {
	return enabled.Load()
}

// BeginSegment opens a root segment. The returned func closes it with the final error.
func BeginSegment(ctx context.Context, name string) (context.Context, func(error)) {
	if !Enabled() {
		return ctx, func(error) {}
	}
	ctx, seg := xray.BeginSegment(ctx, name)
	return ctx, seg.Close
}

// BeginSubsegment opens a child of the segment carried by ctx.
func BeginSubsegment(ctx context.Context, name string) (context.Context, func(error)) {
	if !Enabled() {
		return ctx, func(error) {}
	}
	ctx, seg := xray.BeginSubsegment(ctx, name)
	if seg == nil {
		return ctx, func(error) {}
	}
	return ctx, seg.Close
}

func AddMetadata(ctx context.Context, key string, value interface{}) {
	if !Enabled() {
		return
	}
	if err := xray.AddMetadata(ctx, key, value); err != nil {
		log.Printf("level=warn msg=xray metadata failed key=%s err=%v", key, err)
	}
}
