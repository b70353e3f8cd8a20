package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/VoiceMesh/internal/adapters/capture"
	router "github.com/dkeye/VoiceMesh/internal/adapters/http"
	"github.com/dkeye/VoiceMesh/internal/adapters/rtc"
	"github.com/dkeye/VoiceMesh/internal/adapters/ws"
	"github.com/dkeye/VoiceMesh/internal/config"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/media"
	"github.com/dkeye/VoiceMesh/internal/mesh"
	"github.com/dkeye/VoiceMesh/internal/protocol"
	"github.com/dkeye/VoiceMesh/internal/voice"
)

var flags struct {
	config     string
	name       string
	relay      string
	lounge     string
	table      string
	control    string
	pushToTalk bool
}

var rootCmd = &cobra.Command{
	Use:   "voicemesh",
	Short: "Join peer-to-peer voice rooms through a signaling relay",
	Long: `voicemesh joins the lounge (and optionally a table) voice room, connects
directly to every other member over WebRTC and exposes a local control API
for muting, deafening, push-to-talk and per-peer volume.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flags.config, "config", "", "config file (default config/config.<CONFIG_ENV>.yaml)")
	f.StringVarP(&flags.name, "name", "n", "", "display name")
	f.StringVar(&flags.relay, "relay", "", "relay signaling URL")
	f.StringVar(&flags.lounge, "lounge", "", "lounge room id")
	f.StringVar(&flags.table, "table", "", "table room id")
	f.StringVar(&flags.control, "control", "", "control API listen address")
	f.BoolVar(&flags.pushToTalk, "ptt", false, "start in push-to-talk mode")
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flags.config != "" {
		cfg, err = config.LoadFile(flags.config)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	c := &cfg.Client
	for dst, v := range map[*string]string{
		&c.DisplayName: flags.name,
		&c.RelayURL:    flags.relay,
		&c.LoungeID:    flags.lounge,
		&c.TableID:     flags.table,
		&c.ControlAddr: flags.control,
	} {
		if v != "" {
			*dst = v
		}
	}
	return cfg, nil
}

func run(cmd *cobra.Command, _ []string) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	codec, err := protocol.CodecByName(cfg.Client.Codec)
	if err != nil {
		return err
	}
	transport, err := ws.Dial(ctx, cfg.Client.RelayURL, codec)
	if err != nil {
		return err
	}
	defer transport.Close()

	mic, err := capture.NewProvider()
	if err != nil {
		return err
	}
	conns, err := rtc.NewFactory(rtc.FactoryOptions{
		ICEServers: cfg.Client.ICEServers,
		Codecs:     mic.PopulateCodecs,
	})
	if err != nil {
		return err
	}
	sinks := rtc.SinkFactory{Playback: func(f rtc.AudioFrame) {
		log.Trace().Str("module", "playback").Str("peer", string(f.Peer)).Int("bytes", len(f.Payload)).Float64("gain", f.Gain).Msg("frame")
	}}

	reg := prometheus.NewRegistry()
	client := voice.NewClient(voice.Deps{
		Transport:   transport,
		Capture:     mic,
		Connections: conns,
		Sinks:       sinks,
	}, voice.Options{
		DisplayName: cfg.Client.DisplayName,
		GracePeriod: cfg.Client.GracePeriod,
		Detector: media.DetectorConfig{
			Interval:  cfg.Client.SpeakingInterval,
			FFTSize:   cfg.Client.FFTSize,
			Threshold: cfg.Client.SpeakingThreshold,
		},
		Metrics: mesh.NewMetrics(reg),
	})
	defer client.Close()

	scopes := []domain.RoomScope{domain.LoungeScope(cfg.Client.LoungeID)}
	if cfg.Client.TableID != "" {
		scopes = append(scopes, domain.TableScope(cfg.Client.TableID))
	}
	for _, scope := range scopes {
		call, err := client.Call(scope)
		if err != nil {
			return err
		}
		call.SetPushToTalkMode(flags.pushToTalk)
		if err := call.Join(ctx); err != nil {
			return err
		}
	}

	engine := router.SetupControlRouter(cfg.Mode, &router.ControlAPI{Client: client})
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	srv := &http.Server{
		Addr:    cfg.Client.ControlAddr,
		Handler: engine,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("control API started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("control API error")
			cancel()
		}
	}()

	select {
	case <-ctx.Done():
	case <-transport.Done():
		log.Warn().Msg("relay connection closed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("control API forced to shutdown")
	}
	return nil
}
