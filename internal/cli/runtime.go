package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/spf13/cobra"

	"github.com/roach88/weave/internal/compiler"
	"github.com/roach88/weave/internal/config"
	"github.com/roach88/weave/internal/engine"
	"github.com/roach88/weave/internal/events"
	"github.com/roach88/weave/internal/ir"
	"github.com/roach88/weave/internal/store/sqlite"
)

// runtime is the engine stack of one stateful command.
type runtime struct {
	engine  *engine.Engine
	store   *sqlite.Store
	printer *eventPrinter
}

// loadConfig reads --config, or the defaults when none is given, and
// applies --db on top.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg := config.Default()
	// Without a config file only warnings reach stderr; routine engine
	// logs would drown the command output.
	cfg.Log.Level = "warn"
	if opts.Config != "" {
		var err error
		if cfg, err = config.Load(opts.Config); err != nil {
			return nil, err
		}
	}
	if opts.DB != "" {
		cfg.Storage.Driver = config.DriverSQLite
		cfg.Storage.Path = opts.DB
	}
	return cfg, nil
}

// newLogger builds the slog logger described by cfg. Verbose forces the
// debug level.
func newLogger(cfg *config.Config, verbose bool, w io.Writer) *slog.Logger {
	level, err := cfg.Log.SlogLevel()
	if err != nil || verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// openRuntime opens the configured database and creates an engine over
// it. Callers must Close the runtime.
func openRuntime(opts *RootOptions, cmd *cobra.Command) (*runtime, error) {
	formatter := newFormatter(opts, cmd)

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, formatter.Fail(ExitCommandError, ErrCodeConfig, err)
	}
	if cfg.Storage.Driver != config.DriverSQLite {
		return nil, formatter.Fail(ExitCommandError, ErrCodeConfig,
			errors.New("no database configured: pass --db or set storage.driver to sqlite"))
	}

	logger := newLogger(cfg, opts.Verbose, cmd.ErrOrStderr())
	st, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		return nil, formatter.Fail(ExitCommandError, ErrCodeConfig, err)
	}
	formatter.VerboseLog("Opened database %s", cfg.Storage.Path)

	engineOpts := append(engine.FromConfig(cfg), engine.WithLogger(logger))
	rt := &runtime{store: st}
	if opts.Events {
		rt.printer, err = newEventPrinter(cmd.ErrOrStderr(), logger)
		if err != nil {
			_ = st.Close()
			return nil, formatter.Fail(ExitCommandError, ErrCodeConfig, err)
		}
		engineOpts = append(engineOpts, engine.WithListener(events.NewPublisher(rt.printer.pubSub, events.WithLogger(logger))))
	}
	rt.engine = engine.New(st, engineOpts...)
	return rt, nil
}

// Close waits for async work, then releases the event printer and the
// database.
func (r *runtime) Close() error {
	errs := []error{r.engine.Close()}
	if r.printer != nil {
		errs = append(errs, r.printer.Close())
	}
	errs = append(errs, r.store.Close())
	return errors.Join(errs...)
}

// eventPrinter subscribes to the lifecycle events of the engine and
// prints one line per event.
type eventPrinter struct {
	pubSub *gochannel.GoChannel
	w      io.Writer
	done   chan struct{}
	mu     sync.Mutex
}

func newEventPrinter(w io.Writer, logger *slog.Logger) (*eventPrinter, error) {
	// Publishing blocks until the line is printed, so events appear in
	// order and none is lost when the command exits.
	pubSub := events.NewGoChannel(logger, true)
	messages, err := pubSub.Subscribe(context.Background(), events.DefaultTopic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to events: %w", err)
	}

	p := &eventPrinter{pubSub: pubSub, w: w, done: make(chan struct{})}
	go p.run(messages)
	return p, nil
}

func (p *eventPrinter) run(messages <-chan *message.Message) {
	defer close(p.done)
	for msg := range messages {
		if ev, err := events.Decode(msg); err == nil {
			p.print(ev)
		}
		msg.Ack()
	}
}

func (p *eventPrinter) print(ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "event %s instance=%s", ev.Type, ev.InstanceID)
	if ev.ActivityID != "" {
		fmt.Fprintf(&b, " activity=%s", ev.ActivityID)
	}
	if ev.ActivityInstanceID != "" {
		fmt.Fprintf(&b, " activity_instance=%s", ev.ActivityInstanceID)
	}
	if ev.State != "" {
		fmt.Fprintf(&b, " state=%s", ev.State)
	}
	if ev.TransitionID != "" {
		fmt.Fprintf(&b, " transition=%s to=%s", ev.TransitionID, ev.ToInstanceID)
	}
	fmt.Fprintln(p.w, b.String())
}

// Close stops the subscription and waits for the printer to finish.
func (p *eventPrinter) Close() error {
	err := p.pubSub.Close()
	<-p.done
	return err
}

// newFormatter creates the formatter every command writes through.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// loadDefinition reads a definition file, reporting failures as command
// errors when the file cannot be read and as failures when it does not
// decode.
func loadDefinition(formatter *OutputFormatter, path string) (*ir.WorkflowSource, error) {
	src, err := compiler.LoadFile(path)
	if err == nil {
		return src, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, formatter.Fail(ExitCommandError, ErrCodeLoad, err)
	}
	return nil, formatter.Fail(ExitFailure, ErrCodeLoad, err)
}

// engineFailure reports an engine error under its error code.
func engineFailure(formatter *OutputFormatter, err error) error {
	code := string(engine.CodeOf(err))
	if code == "" {
		code = "E_ENGINE"
	}
	return formatter.Fail(ExitFailure, code, err)
}

// parseData decodes a --data flag. An empty flag is no data.
func parseData(raw string) (ir.VariableMap, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var data ir.VariableMap
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("invalid --data JSON: %w", err)
	}
	return data, nil
}
