// Command apprtc joins AppRTC rooms and runs a development room server.
package main

import (
	"context"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"apprtc/native/internal/api"
	"apprtc/native/internal/call"
	"apprtc/native/internal/config"
	"apprtc/native/internal/domain"
	"apprtc/native/internal/room"
	"apprtc/native/internal/roomserver"
	"apprtc/native/internal/webrtc"

	"github.com/pkg/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const greeting = "hello from apprtc"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:          "apprtc",
		Short:        "AppRTC signaling client and development room server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default $"+config.FileEnv+")")

	root.AddCommand(newCallCommand(&configPath), newServeCommand(&configPath))

	if err := root.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func newCallCommand(configPath *string) *cobra.Command {
	var (
		roomID   string
		server   string
		query    string
		loopback bool
	)
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Join a room and exchange a data channel greeting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("room") {
				cfg.RoomID = roomID
			}
			if flags.Changed("server") {
				cfg.RoomServerURL = server
			}
			if flags.Changed("query") {
				cfg.URLParameters = query
			}
			if flags.Changed("loopback") {
				cfg.Loopback = loopback
			}
			return runCall(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&roomID, "room", "", "room id, or ip[:port] for a direct TCP call")
	cmd.Flags().StringVar(&server, "server", "", "room server URL")
	cmd.Flags().StringVar(&query, "query", "", "extra query parameters for room server requests")
	cmd.Flags().BoolVar(&loopback, "loopback", false, "call yourself through the room server")
	return cmd
}

func runCall(parent context.Context, cfg *config.Config) error {
	ctx, stop := ossignal.NotifyContext(contextOrBackground(parent), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lf := cfg.LoggerFactory()
	params := cfg.RoomConnectionParameters()

	newPeer := func(iceServers []domain.ICEServer, initiator bool) (domain.Peer, error) {
		peer, err := webrtc.NewPeer(webrtc.Config{
			ICEServers:     iceServers,
			Initiator:      initiator,
			FilterLoopback: !params.Loopback,
			LoggerFactory:  lf,
		})
		if err != nil {
			return nil, err
		}
		peer.OnDataChannelOpen(func() {
			pterm.Success.Println("Data channel open")
			if err := peer.SendText(greeting); err != nil {
				pterm.Warning.Printfln("Send greeting: %v", err)
			}
		})
		peer.OnDataChannelMessage(func(msg string) {
			pterm.Info.Printfln("Peer says: %s", msg)
		})
		return peer, nil
	}

	c := call.New(newPeer, cancel, lf)
	client, err := room.NewClient(params, c,
		room.WithLoggerFactory(lf),
		room.WithHTTPClient(api.NewClient(&http.Client{Timeout: cfg.HTTPTimeout}, lf)),
		room.WithCloseTimeout(cfg.CloseTimeout),
	)
	if err != nil {
		return err
	}
	c.SetRoomClient(client)
	defer c.Close()

	if room.IsDirectRoomID(params.RoomID) && !params.Loopback {
		pterm.Info.Printfln("Direct TCP call with %s", params.RoomID)
	} else {
		pterm.Info.Printfln("Joining room %s on %s", params.RoomID, params.RoomServerURL)
	}
	client.ConnectToRoom(params)

	<-ctx.Done()
	pterm.Info.Println("Hanging up")
	return nil
}

func newServeCommand(configPath *string) *cobra.Command {
	var (
		addr string
		stun []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a development room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.ListenAddr = addr
			}
			var iceServers []domain.ICEServer
			if len(stun) > 0 {
				iceServers = append(iceServers, domain.ICEServer{URLs: stun})
			}
			return runServe(cmd.Context(), cfg, iceServers)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8080)")
	cmd.Flags().StringSliceVar(&stun, "stun", []string{"stun:stun.l.google.com:19302"}, "STUN URLs advertised to clients")
	return cmd
}

func runServe(parent context.Context, cfg *config.Config, iceServers []domain.ICEServer) error {
	ctx, stop := ossignal.NotifyContext(contextOrBackground(parent), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := roomserver.New(roomserver.Config{
		ICEServers:    iceServers,
		LoggerFactory: cfg.LoggerFactory(),
	})
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		pterm.Info.Printfln("Room server listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if err := eg.Wait(); err != nil {
		return err
	}
	pterm.Info.Println("Room server stopped")
	return nil
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
