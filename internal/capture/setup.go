package capture

import (
	"context"
	"errors"
	"log/slog"

	"github.com/drksbr/facecam/internal/camera"
	"github.com/drksbr/facecam/internal/config"
	"github.com/drksbr/facecam/internal/logger"
	"github.com/drksbr/facecam/internal/network"
)

// Setup initializes the camera and then the uplink. When the camera cannot
// be initialized the failure is logged, the network step is skipped and an
// Unavailable camera is returned so the loop still starts. The only error
// returned is ctx cancellation.
func Setup(ctx context.Context, cfg *config.Config, link network.Link, log *slog.Logger) (camera.Camera, error) {
	if log == nil {
		log = logger.Discard()
	}

	cam, err := camera.Open(ctx, cfg.Camera, log.With("component", "camera"))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Error("camera init failed", "error", err)
		return camera.Unavailable{}, nil
	}

	creds := cfg.Network.Credentials()
	log.Info("connecting to network", "mode", cfg.Network.Mode, "interface", cfg.Network.Interface, "credentials", creds)
	if err := link.Connect(ctx, creds); err != nil {
		log.Warn("network join failed", "error", err)
	}

	err = network.Await(ctx, link, cfg.Network.AwaitPolicy(), log)
	switch {
	case err == nil:
	case errors.Is(err, network.ErrConnectTimeout):
		log.Warn("network not connected, starting loop anyway", "error", err)
	default:
		cam.Close()
		return nil, err
	}
	return cam, nil
}
