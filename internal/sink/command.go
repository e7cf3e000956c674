package sink

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/drksbr/facecam/internal/config"
	"github.com/drksbr/facecam/internal/runtime"
)

type sinkFlags struct {
	listen       string
	searchDir    string
	imageDir     string
	maxUpload    int64
	idMode       string
	acmeHosts    []string
	acmeCache    string
	acmeEmail    string
	secureListen string
}

func (f *sinkFlags) apply(cmd *cobra.Command, cfg *config.SinkConfig) {
	changed := cmd.Flags().Changed
	if changed("listen") {
		cfg.Listen = f.listen
	}
	if changed("search-dir") {
		cfg.SearchDir = f.searchDir
	}
	if changed("image-dir") {
		cfg.ImageDir = f.imageDir
	}
	if changed("max-upload") {
		cfg.MaxUploadBytes = f.maxUpload
	}
	if changed("id-mode") {
		cfg.IDMode = f.idMode
	}
	if changed("acme-host") {
		cfg.ACMEHosts = f.acmeHosts
	}
	if changed("acme-cache") {
		cfg.ACMECache = f.acmeCache
	}
	if changed("acme-email") {
		cfg.ACMEEmail = f.acmeEmail
	}
	if changed("secure-listen") {
		cfg.SecureListen = f.secureListen
	}
}

// NewCommand returns the receiver the capture loop uploads to.
func NewCommand(globals *runtime.Options) *cobra.Command {
	flags := &sinkFlags{}
	cmd := &cobra.Command{
		Use:   "sink",
		Short: "Receive uploaded frames and store them on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			if globals.Logger() == nil {
				if err := globals.SetupLogger(); err != nil {
					return err
				}
			}
			cfg, err := globals.LoadConfig()
			if err != nil {
				return err
			}
			opts := cfg.Sink
			flags.apply(cmd, &opts)

			server, err := NewServer(opts, globals.Logger().WithComponent("sink"))
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return server.Run(ctx)
		},
	}

	defaults := config.Default().Sink
	cmd.Flags().StringVar(&flags.listen, "listen", defaults.Listen, "listen address for plain HTTP")
	cmd.Flags().StringVar(&flags.searchDir, "search-dir", defaults.SearchDir, "directory for images posted to /identificar/")
	cmd.Flags().StringVar(&flags.imageDir, "image-dir", defaults.ImageDir, "directory for images posted to /cadastrar/")
	cmd.Flags().Int64Var(&flags.maxUpload, "max-upload", defaults.MaxUploadBytes, "maximum request size in bytes")
	cmd.Flags().StringVar(&flags.idMode, "id-mode", defaults.IDMode, "file identifier generator (uuid or cuid)")
	cmd.Flags().StringSliceVar(&flags.acmeHosts, "acme-host", nil, "hostnames for Let's Encrypt certificates (repeatable)")
	cmd.Flags().StringVar(&flags.acmeCache, "acme-cache", defaults.ACMECache, "directory for ACME certificate cache")
	cmd.Flags().StringVar(&flags.acmeEmail, "acme-email", "", "contact email for Let's Encrypt registration")
	cmd.Flags().StringVar(&flags.secureListen, "secure-listen", defaults.SecureListen, "listen address for TLS when --acme-host is set")

	return cmd
}
