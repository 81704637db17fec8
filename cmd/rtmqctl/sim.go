package main

import (
	"context"
	"errors"
	"net"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/config"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/hmq"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/hmq/remote"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/host"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/rt"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/server"
)

// simNode is a simulated device: one fabric and one core running an image.
type simNode struct {
	device config.DeviceConfig
	fabric *hmq.Fabric
	core   *rt.Runtime
}

// Without a path the starter templates describe the node.
func loadDevice(path string) (config.DeviceConfig, error) {
	if path == "" {
		tmpl, err := config.Template("device")
		if err != nil {
			return config.DeviceConfig{}, err
		}
		return config.ParseDeviceConfig([]byte(tmpl))
	}
	return config.LoadDeviceConfig(path)
}

func loadImage(path string) (config.ImageConfig, error) {
	if path == "" {
		tmpl, err := config.Template("image")
		if err != nil {
			return config.ImageConfig{}, err
		}
		return config.ParseImageConfig([]byte(tmpl))
	}
	return config.LoadImageConfig(path)
}

func buildSimNode(devicePath, imagePath string) (*simNode, error) {
	device, err := loadDevice(devicePath)
	if err != nil {
		return nil, err
	}
	image, err := loadImage(imagePath)
	if err != nil {
		return nil, err
	}
	codec, err := device.FrameCodec()
	if err != nil {
		return nil, err
	}
	fab, err := device.Fabric()
	if err != nil {
		return nil, err
	}
	app, err := image.Application()
	if err != nil {
		return nil, err
	}
	core, err := rt.New(app, fab.Local.CorePort(), fab.Remote.CorePort(), codec)
	if err != nil {
		return nil, err
	}
	if err := core.Init(); err != nil {
		return nil, err
	}
	return &simNode{device: device, fabric: fab, core: core}, nil
}

// simListeners are the bridges a simulated node serves. remote may be nil.
type simListeners struct {
	local  net.Listener
	remote net.Listener
}

// serve runs the core loop and the bridges, plus the gateway when gw is set,
// until ctx is done.
func (n *simNode) serve(ctx context.Context, ls simListeners, gw *server.Gateway) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.core.Run(ctx, hmq.SystemClock{}, 0)
	})
	g.Go(func() error {
		return remote.NewServer(n.fabric.Local.HostPort()).Serve(ctx, ls.local)
	})
	if ls.remote != nil {
		g.Go(func() error {
			return remote.NewServer(n.fabric.Remote.HostPort()).Serve(ctx, ls.remote)
		})
	}
	if gw != nil {
		g.Go(func() error {
			return gw.Serve(ctx)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newSimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run a simulated node and expose its host ports on queue bridges",
		Long: `sim runs a core image on a simulated device. The local bank is served on
--addr. Replies to requests carrying the REMOTE flag land on the remote bank,
which is only reachable when --remote-addr is set; point a client's --addr at
it and pass --remote to talk to the core's remote queues.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := resolveOptions()
			if err != nil {
				return err
			}
			withGateway, _ := cmd.Flags().GetBool("gateway")
			remoteAddr, _ := cmd.Flags().GetString("remote-addr")
			node, err := buildSimNode(opts.Device, opts.Image)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			var lc net.ListenConfig
			var ls simListeners
			if ls.local, err = lc.Listen(ctx, "tcp", opts.Addr); err != nil {
				return err
			}
			if remoteAddr != "" {
				if ls.remote, err = lc.Listen(ctx, "tcp", remoteAddr); err != nil {
					_ = ls.local.Close()
					return err
				}
			}
			ev := log.Info().
				Str("device", node.device.Name).
				Str("app", node.core.Name()).
				Str("addr", ls.local.Addr().String())
			if ls.remote != nil {
				ev = ev.Str("remote_addr", ls.remote.Addr().String())
			}
			ev.Msg("simulated node up")

			var gw *server.Gateway
			if withGateway {
				codec, _ := node.device.FrameCodec()
				engine := host.NewEngine(node.fabric.Local.HostPort(), codec, nil, opts.Session)
				gw = newGateway(node.device.Name, engine, opts)
			}
			return node.serve(ctx, ls, gw)
		},
	}
	cmd.Flags().Bool("gateway", false, "also serve the HTTP gateway on --gateway-addr")
	cmd.Flags().String("remote-addr", "", "serve the remote bank's host port on this address")
	return cmd
}
