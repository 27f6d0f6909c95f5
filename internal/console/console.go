package console

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/you/flash-arb/internal/types"
)

// Reporter prints the running status stream for a human operator. All
// machine-readable output goes through the structured logger instead.
type Reporter struct {
	w io.Writer

	header *color.Color
	good   *color.Color
	bad    *color.Color
	warn   *color.Color
	muted  *color.Color
}

func New(w io.Writer) *Reporter {
	if w == nil {
		w = os.Stdout
	}
	return &Reporter{
		w:      w,
		header: color.New(color.FgCyan, color.Bold),
		good:   color.New(color.FgGreen),
		bad:    color.New(color.FgRed),
		warn:   color.New(color.FgYellow),
		muted:  color.New(color.FgHiBlack),
	}
}

func (r *Reporter) Banner(pairs int, scanInterval time.Duration, dryRun bool) {
	r.header.Fprintln(r.w, "flash-arb started")
	fmt.Fprintf(r.w, "  pairs: %d  interval: %s\n", pairs, scanInterval)
	if dryRun {
		r.warn.Fprintln(r.w, "  DRY RUN: no transactions will be sent")
	}
}

func (r *Reporter) Cycle(scan int, ethPrice, gasGwei float64, opportunities int) {
	r.muted.Fprintf(r.w, "[scan %d] ETH $%.2f  gas %.3f gwei  opportunities: %d\n",
		scan, ethPrice, gasGwei, opportunities)
}

func (r *Reporter) Paused(reason string) {
	r.warn.Fprintf(r.w, "paused: %s\n", reason)
}

func (r *Reporter) Opportunity(opp types.Opportunity) {
	fmt.Fprintf(r.w, "  %s %s spread %.3f%%  borrow %.2f ETH  net $%.2f (%.3f%%)\n",
		opp.Pair.Name, opp.Direction, opp.Quotes.SpreadPct,
		opp.BorrowETH, opp.NetUSD, opp.ProfitPct)
}

func (r *Reporter) TradeSuccess(pair, txHash string, profitUSD float64) {
	r.good.Fprintf(r.w, "✔ %s profit $%.2f  tx %s\n", pair, profitUSD, txHash)
}

func (r *Reporter) TradeFailure(pair string, kind types.FailureKind, err error) {
	r.bad.Fprintf(r.w, "✘ %s failed (%s): %v\n", pair, kind, err)
}

func (r *Reporter) TradeAborted(pair string, reason types.AbortReason) {
	r.warn.Fprintf(r.w, "– %s skipped: %s\n", pair, reason)
}

func (r *Reporter) Summary(uptime time.Duration, scans, successes, failures int, netUSD float64) {
	r.header.Fprintln(r.w, "session summary")
	fmt.Fprintf(r.w, "  uptime: %s  scans: %d\n", uptime.Round(time.Second), scans)
	fmt.Fprintf(r.w, "  trades: %d ok / %d failed\n", successes, failures)
	if netUSD >= 0 {
		r.good.Fprintf(r.w, "  net: +$%.2f\n", netUSD)
	} else {
		r.bad.Fprintf(r.w, "  net: -$%.2f\n", -netUSD)
	}
}
