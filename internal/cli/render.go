package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/volley/internal/exchange"
	"github.com/volley/internal/stats"
)

// outcome prints one exchange result.
func (p *printer) outcome(o exchange.Outcome, showHeaders, showBody bool) {
	target := ""
	if o.Request != nil {
		target = fmt.Sprintf("%s %s", o.Request.Method(), o.Request.URL())
	}

	switch o.Kind {
	case exchange.KindCancelled:
		p.printf("%s %s\n", p.render(warningStyle, "cancelled"), target)
		return
	case exchange.KindTransferFailed:
		p.printf("%s %s\n  %v\n", p.render(errorStyle, "transfer failed"), target, o.Err)
		return
	}

	resp := o.Response
	status := fmt.Sprintf("%d %s", resp.StatusCode(), resp.Reason())
	style := successStyle
	switch o.Kind {
	case exchange.KindClientError:
		style = warningStyle
	case exchange.KindServerError:
		style = errorStyle
	}
	p.printf("%s %s %s\n", p.render(style, status), target, p.render(dimStyle, "("+roundDuration(resp.Duration()).String()+")"))

	if showHeaders {
		for _, h := range resp.Headers() {
			p.printf("  %s: %s\n", p.render(accentStyle, h.Name), h.Value)
		}
	}
	if showBody && len(resp.Body()) > 0 {
		p.printf("\n%s\n", strings.TrimRight(string(resp.Body()), "\n"))
	}
}

// summary prints the statistics of a batch run.
func (p *printer) summary(s stats.Snapshot) {
	p.printf("\n")
	p.title("Summary")
	p.row("Exchanges", fmt.Sprintf("%d", s.Total))
	p.row("Errors", fmt.Sprintf("%d (%.1f%%)", s.Errors, s.ErrorRate))
	p.row("Elapsed", roundDuration(s.Elapsed).String())
	p.row("Throughput", fmt.Sprintf("%.1f/s", s.Throughput()))

	if s.Samples > 0 {
		p.printf("\n")
		p.title("Latency")
		p.row("min", roundDuration(s.Min).String())
		p.row("mean", roundDuration(s.Mean).String())
		p.row("p50", roundDuration(s.P50).String())
		p.row("p95", roundDuration(s.P95).String())
		p.row("p99", roundDuration(s.P99).String())
		p.row("max", roundDuration(s.Max).String())
	}

	if len(s.Outcomes) > 0 {
		p.printf("\n")
		p.title("Outcomes")
		for _, c := range s.Outcomes {
			p.row(c.Name, fmt.Sprintf("%d", c.Value))
		}
	}
	if len(s.Methods) > 0 {
		p.printf("\n")
		p.title("Methods")
		for _, c := range s.Methods {
			p.row(c.Name, fmt.Sprintf("%d", c.Value))
		}
	}
}

func roundDuration(d time.Duration) time.Duration {
	switch {
	case d >= time.Second:
		return d.Round(time.Millisecond)
	case d >= time.Millisecond:
		return d.Round(10 * time.Microsecond)
	}
	return d
}
