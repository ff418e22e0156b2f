package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/volley/internal/config"
	"github.com/volley/internal/controller"
	"github.com/volley/internal/exchange"
	"github.com/volley/internal/logging"
	"github.com/volley/internal/mainloop"
	"github.com/volley/pkg/errs"
)

type fireOptions struct {
	configPath  string
	method      string
	headers     []string
	params      []string
	cookies     []string
	contentType string
	encoding    string
	protocol    string
	timeout     time.Duration
	showHeaders bool
	showBody    bool
}

func newFireCmd() *cobra.Command {
	opts := &fireOptions{}

	cmd := &cobra.Command{
		Use:   "fire URL",
		Short: "Send a single exchange and print its outcome",
		Long: `Send one exchange through the worker pool and print the classified outcome.

Example:
  volley fire https://example.com/health
  volley fire -X POST -p user=alice -p role=admin https://example.com/users
  volley fire -X PUT --content-type application/json -p a=1 https://example.com/items/1
  volley fire grpc://localhost:50051/my.Service`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFire(cmd, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	f.StringVarP(&opts.method, "method", "X", "GET", "Request method (GET, POST, PUT, DELETE)")
	f.StringArrayVarP(&opts.headers, "header", "H", nil, `Request header "Name: value" (repeatable)`)
	f.StringArrayVarP(&opts.params, "param", "p", nil, "Body parameter name=value (repeatable)")
	f.StringArrayVar(&opts.cookies, "cookie", nil, "Cookie name=value (repeatable)")
	f.StringVar(&opts.contentType, "content-type", "", "Body content type for POST and PUT")
	f.StringVar(&opts.encoding, "encoding", "", "Body character encoding for POST and PUT")
	f.StringVar(&opts.protocol, "protocol", "", "Transfer protocol (http, http2, grpc)")
	f.DurationVar(&opts.timeout, "timeout", 0, "Transfer timeout")
	f.BoolVarP(&opts.showHeaders, "include", "i", false, "Print response headers")
	f.BoolVarP(&opts.showBody, "body", "b", false, "Print response body")

	return cmd
}

func runFire(cmd *cobra.Command, opts *fireOptions, url string) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	switch proto := config.Protocol(opts.protocol); proto {
	case "":
	case config.ProtocolHTTP, config.ProtocolHTTP2, config.ProtocolGRPC:
		cfg.Client.Protocol = proto
	default:
		return errs.Invalid("unsupported protocol %q", opts.protocol)
	}
	if opts.timeout > 0 {
		cfg.Client.Timeout = opts.timeout
	}

	x, err := opts.exchange(url)
	if err != nil {
		return err
	}
	req, err := controller.BuildRequest(x)
	if err != nil {
		return err
	}

	log := logging.NewOrNop(cfg.Logging)
	defer log.Sync()

	loop := mainloop.New()
	eng := newEngine(cfg, log, loop)
	defer eng.shutdown(false)

	p := newPrinter(cmd.OutOrStdout())

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	var result exchange.Outcome
	call, err := eng.executor.ExecuteAsync(req, exchange.OutcomeFunc(func(o exchange.Outcome) {
		result = o
		p.outcome(o, opts.showHeaders, opts.showBody)
		stopLoop()
	}))
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		select {
		case <-sigCtx.Done():
			call.Cancel(true)
		case <-call.Done():
		}
	}()

	loop.Run(loopCtx)

	switch result.Kind {
	case exchange.KindCompleted:
		return nil
	case exchange.KindCancelled:
		return fmt.Errorf("exchange %s cancelled", call.ID())
	case exchange.KindTransferFailed:
		return result.Err
	}
	return fmt.Errorf("exchange failed: %s", result.Response.Error().Message)
}

func (o *fireOptions) exchange(url string) (config.Exchange, error) {
	headers, err := parsePairs(o.headers, ":")
	if err != nil {
		return config.Exchange{}, fmt.Errorf("--header: %w", err)
	}
	params, err := parsePairs(o.params, "=")
	if err != nil {
		return config.Exchange{}, fmt.Errorf("--param: %w", err)
	}
	cookiePairs, err := parsePairs(o.cookies, "=")
	if err != nil {
		return config.Exchange{}, fmt.Errorf("--cookie: %w", err)
	}

	cookies := make([]config.Cookie, 0, len(cookiePairs))
	for _, c := range cookiePairs {
		cookies = append(cookies, config.Cookie{Name: c.Name, Value: c.Value})
	}

	return config.Exchange{
		Name:        "fire",
		URL:         url,
		Method:      o.method,
		ContentType: o.contentType,
		Encoding:    o.encoding,
		Headers:     headers,
		Parameters:  params,
		Cookies:     cookies,
		Repeat:      1,
	}, nil
}

// parsePairs splits each value at the first sep into a trimmed name and value.
func parsePairs(values []string, sep string) ([]config.NameValue, error) {
	out := make([]config.NameValue, 0, len(values))
	for _, v := range values {
		name, value, ok := strings.Cut(v, sep)
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, errs.Invalid("expected name%svalue, got %q", sep, v)
		}
		out = append(out, config.NameValue{Name: name, Value: strings.TrimSpace(value)})
	}
	return out, nil
}
