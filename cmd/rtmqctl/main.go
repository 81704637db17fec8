package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/config"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/hmq/remote"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/host"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/logging"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/frame"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/session"
)

// options is the resolved view of profile, env and flags.
type options struct {
	Addr        string
	Target      host.Target
	Session     session.Config
	Codec       frame.Codec
	GatewayAddr string
	CorsOrigins []string
	Device      string
	Image       string
}

var settings = viper.New()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rtmqctl",
		Short: "Talk to node cores over their message queues",
		Long: `rtmqctl sends standard requests (ping, version, variables, structures) to a
core through a queue bridge, runs a simulated node with its cores, and serves
an HTTP gateway over the host engine.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logging.ConfigureRuntime()
			return loadSettings(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "CLI profile (TOML)")
	pf.String("addr", "", "queue bridge address")
	pf.Uint16("app-id", 0, "application id of the target core (0 matches any)")
	pf.Int("in", 0, "core input slot for requests")
	pf.Int("out", 0, "core output slot for replies")
	pf.Bool("remote", false, "ask the core to answer on its remote bank")
	pf.Duration("timeout", 0, "synchronous reply timeout (0 uses the default)")
	pf.Duration("poll-interval", 0, "reply poll interval")
	pf.Int("attempts", 0, "attempts for calls that time out or find the slot busy")
	pf.String("codec", "", "header codec: host, native")
	pf.String("gateway-addr", "", "HTTP gateway listen address")
	pf.String("device", "", "device description (TOML)")
	pf.String("image", "", "core image description (TOML)")
	_ = settings.BindPFlags(pf)
	settings.SetEnvPrefix("RTMQ")
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()

	root.AddCommand(
		newPingCmd(),
		newVersionCmd(),
		newVarCmd(),
		newStructCmd(),
		newRecvCmd(),
		newServeCmd(),
		newSimCmd(),
		newConfigCmd(),
	)
	return root
}

// loadSettings seeds viper defaults from the profile so flags and env win.
func loadSettings(cmd *cobra.Command) error {
	p := defaultProfile()
	if path := settings.GetString("config"); path != "" {
		var err error
		if p, err = loadProfile(path); err != nil {
			return err
		}
	}
	settings.SetDefault("addr", p.Addr)
	settings.SetDefault("app-id", p.AppID)
	settings.SetDefault("in", p.In)
	settings.SetDefault("out", p.Out)
	settings.SetDefault("timeout", p.Timeout)
	settings.SetDefault("poll-interval", p.PollInterval)
	settings.SetDefault("attempts", p.Attempts)
	settings.SetDefault("codec", p.Codec)
	settings.SetDefault("gateway-addr", p.GatewayAddr)
	settings.SetDefault("cors-origins", p.CorsOrigins)
	settings.SetDefault("device", p.Device)
	settings.SetDefault("image", p.Image)
	return nil
}

func resolveOptions() (options, error) {
	codecName := settings.GetString("codec")
	codec, err := config.DeviceConfig{Name: "cli", Codec: codecName}.FrameCodec()
	if err != nil {
		return options{}, err
	}
	appID := settings.GetUint32("app-id")
	if appID > 0xFFFF {
		return options{}, fmt.Errorf("app-id %#x does not fit 16 bits", appID)
	}
	timeout := settings.GetDuration("timeout")
	return options{
		Addr: settings.GetString("addr"),
		Target: host.Target{
			AppID:   uint16(appID),
			In:      settings.GetInt("in"),
			Out:     settings.GetInt("out"),
			Remote:  settings.GetBool("remote"),
			Timeout: timeout,
		},
		Session: session.Config{
			SyncTimeout:  timeout,
			PollInterval: settings.GetDuration("poll-interval"),
			Attempts:     settings.GetInt("attempts"),
		}.Normalize(),
		Codec:       codec,
		GatewayAddr: settings.GetString("gateway-addr"),
		CorsOrigins: settings.GetStringSlice("cors-origins"),
		Device:      settings.GetString("device"),
		Image:       settings.GetString("image"),
	}, nil
}

// connect dials the bridge and returns an engine over it.
func connect(ctx context.Context, opts options) (*host.Engine, func(), error) {
	client, err := remote.Dial(ctx, opts.Addr, opts.Session)
	if err != nil {
		return nil, nil, err
	}
	engine := host.NewEngine(client, opts.Codec, nil, opts.Session)
	return engine, func() { _ = client.Close() }, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func callContext(opts options) (context.Context, context.CancelFunc) {
	budget := time.Duration(opts.Session.Attempts)*(opts.Session.SyncTimeout+opts.Session.Backoff.MaxDelay) + opts.Session.ConnectTimeout
	return context.WithTimeout(context.Background(), budget)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rtmqctl: %v\n", err)
		os.Exit(1)
	}
}
