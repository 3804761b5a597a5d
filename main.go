package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fsnotify/fsnotify"
	"github.com/matt-g-everett/frameanim/api"
	"github.com/matt-g-everett/frameanim/frame"
	"github.com/matt-g-everett/frameanim/imagecache"
	"github.com/matt-g-everett/frameanim/stream"
	"github.com/matt-g-everett/frameanim/surface"
)

const reloadDelay = 250 * time.Millisecond

type app struct {
	Config     stream.Config
	Logger     *slog.Logger
	Client     mqtt.Client
	Guard      *surface.Guard
	Controller *stream.Controller
	Api        *api.Api
}

func newApp(config stream.Config, logger *slog.Logger) *app {
	a := new(app)
	a.Config = config
	a.Logger = logger
	return a
}

func (a *app) handleOnConnect(client mqtt.Client) {
	a.Logger.Info("mqtt connected", "broker", a.Config.Mqtt.URL)
}

func (a *app) handleConnectionLost(client mqtt.Client, err error) {
	a.Logger.Warn("mqtt connection lost", "error", err)
}

func (a *app) connect() error {
	if a.Config.Mqtt.URL == "" {
		return nil
	}
	options := mqtt.NewClientOptions().
		AddBroker(a.Config.Mqtt.URL).
		SetClientID(a.Config.Mqtt.ClientID).
		SetUsername(a.Config.Mqtt.Username).
		SetPassword(a.Config.Mqtt.Password).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(5 * time.Second).
		SetAutoReconnect(true).
		SetOnConnectHandler(a.handleOnConnect).
		SetConnectionLostHandler(a.handleConnectionLost)
	a.Client = mqtt.NewClient(options)

	token := a.Client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("mqtt connect timed out")
	}
	return token.Error()
}

func (a *app) build() error {
	clearColour, err := a.Config.ClearColour()
	if err != nil {
		return err
	}

	var s surface.Surface
	if a.Client != nil && a.Config.Mqtt.Topics.Frames != "" {
		s = surface.NewPublisher(a.Client, a.Config.Mqtt.Topics.Frames, a.Config.Mqtt.QoS,
			a.Config.PublishTimeout(), a.Logger)
	} else {
		a.Logger.Info("no frame topic, drawing to memory only")
		s = surface.NewMemory(0, 0)
	}
	a.Guard = surface.NewGuard(s, clearColour)
	a.Guard.Resized(a.Config.Surface.Width, a.Config.Surface.Height)
	a.Guard.Created()

	var cache *imagecache.Cache
	if a.Config.Cache.MaxEntries > 0 {
		cache = imagecache.New(imagecache.WithMaxEntries(a.Config.Cache.MaxEntries))
	} else {
		cache = imagecache.New()
	}
	decoder := frame.NewDecoder(frame.FSLoader{FS: os.DirFS(a.Config.Playback.Dir)}, cache)

	opts := append(a.Config.Options(), stream.WithLogger(a.Logger))
	a.Controller = stream.NewController(a.Guard, decoder, opts...)

	listeners := stream.Listeners{stream.ListenerFuncs{
		Start: func() { a.Logger.Info("animation started") },
		End:   func() { a.Logger.Info("animation ended") },
	}}
	if a.Client != nil && a.Config.Mqtt.Topics.Events != "" {
		listeners = append(listeners, stream.NewNotifier(a.Client, a.Config.Mqtt.Topics.Events,
			a.Config.Mqtt.Encoding, a.Config.PublishTimeout(), a.Logger))
	}
	a.Controller.SetOnFrameListener(listeners)
	a.Controller.SetOneShot(a.Config.Playback.OneShot)
	a.Controller.SetDuration(a.Config.Duration())

	a.Api = api.NewApi(a.Controller, a.Config.Api.Listen, a.Logger)
	return nil
}

func (a *app) loadFrames() error {
	seq, err := frame.ListDir(os.DirFS(a.Config.Playback.Dir), ".", a.Config.Playback.Prefix,
		a.Config.FrameDuration())
	if err != nil {
		return err
	}
	a.Logger.Info("frames loaded", "dir", a.Config.Playback.Dir, "count", seq.Len())
	// Unless bounded by config, keep every frame resident once decoded.
	if cache := a.Controller.Cache(); cache != nil && a.Config.Cache.MaxEntries == 0 && seq.Len() > cache.MaxEntries() {
		cache.SetMaxEntries(seq.Len())
	}
	a.Controller.AddFrames(seq)
	return nil
}

// reload swaps in the current contents of the frame directory. Pooled
// buffers are dropped since the files behind their keys may have changed.
func (a *app) reload() {
	running := a.Controller.IsRunning()
	a.Controller.Stop()
	if cache := a.Controller.Cache(); cache != nil {
		cache.Purge()
	}
	if err := a.loadFrames(); err != nil {
		a.Logger.Error("reload failed", "error", err)
		return
	}
	if running {
		a.Controller.Start()
	}
}

func (a *app) watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(a.Config.Playback.Dir); err != nil {
		return err
	}
	a.Logger.Info("watching frames", "dir", a.Config.Playback.Dir)

	// Events arrive in bursts while files are copied, so wait for a quiet
	// spell before reloading.
	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			a.Logger.Debug("frame dir changed", "file", filepath.Base(ev.Name), "op", ev.Op.String())
			timer.Reset(reloadDelay)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.Logger.Warn("watch error", "error", err)
		case <-timer.C:
			a.reload()
		}
	}
}

func (a *app) run(ctx context.Context) {
	go func() {
		if err := a.Api.Serve(); err != nil {
			a.Logger.Error("api failed", "error", err)
		}
	}()
	if a.Config.Playback.Watch {
		go func() {
			if err := a.watch(ctx); err != nil {
				a.Logger.Error("watch failed", "error", err)
			}
		}()
	}

	a.Controller.Start()
	<-ctx.Done()
	a.Logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Api.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("api shutdown", "error", err)
	}
	a.Controller.Close()
	a.Guard.Destroyed()
	if a.Client != nil {
		a.Client.Disconnect(250)
	}
}

func main() {
	mqtt.ERROR = log.New(os.Stdout, "", 0)

	// Parse command line parameters
	configPath := flag.String("config", "config.yaml", "YAML config file.")
	verbose := flag.Bool("v", false, "Debug logging.")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	config, err := stream.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	logger.Debug("config loaded", "path", *configPath, "broker", config.Mqtt.URL,
		"dir", config.Playback.Dir, "oneShot", config.Playback.OneShot)

	a := newApp(config, logger)
	if err := a.connect(); err != nil {
		log.Fatalf("MQTT: %v", err)
	}
	if err := a.build(); err != nil {
		log.Fatalf("Setup: %v", err)
	}
	if err := a.loadFrames(); err != nil {
		log.Fatalf("Frames: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.run(ctx)
}
