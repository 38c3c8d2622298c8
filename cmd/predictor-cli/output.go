package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"text/tabwriter"
	"time"

	"predictor/pkg/predictor"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printPrediction(w io.Writer, p *predictor.Prediction) {
	fmt.Fprintf(w, "%s  horizon %dd  as of %s  close %.2f\n",
		p.Symbol, p.Horizon, p.AsOf.Format(time.DateOnly), p.LastClose)
	fmt.Fprintf(w, "signal: %s  confidence %.3f  (buy %.3f / sell %.3f)\n",
		p.Signal.Direction, p.Signal.Confidence, p.Signal.BuyTotal, p.Signal.SellTotal)
	if p.Signal.Reasoning != "" {
		fmt.Fprintln(w, p.Signal.Reasoning)
	}

	ids := make([]string, 0, len(p.Readings))
	for id := range p.Readings {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nINDICATOR\tDIRECTION\tCONFIDENCE\tVALUE")
	for _, id := range ids {
		r := p.Readings[id]
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%.4f\n", id, r.Direction, r.Confidence, r.RawValue)
	}
	tw.Flush()
}

func printBatch(w io.Writer, entries []predictor.BatchEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tRUN\tTRADES\tWIN%\tRETURN%\tMAXDD%\tSHARPE\tPF\tFINAL")
	for _, e := range entries {
		if e.Report == nil {
			fmt.Fprintf(tw, "%s\terror: %s\n", e.Symbol, e.Error)
			continue
		}
		m := e.Report.Metrics
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.1f\t%.2f\t%.2f\t%.2f\t%s\t%.2f\n",
			e.Symbol, e.Report.RunID, m.TotalTrades, 100*m.WinRate, 100*m.TotalReturn,
			100*m.MaxDrawdown, m.SharpeRatio, formatFactor(m.ProfitFactor), e.Report.FinalEquity())
	}
	tw.Flush()
}

func printReports(w io.Writer, sums []predictor.ReportSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSYMBOL\tHORIZON\tTRADES\tRETURN%\tSHARPE\tCREATED")
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.2f\t%.2f\t%s\n",
			s.RunID, s.Symbol, s.Horizon, s.Metrics.TotalTrades, 100*s.Metrics.TotalReturn,
			s.Metrics.SharpeRatio, s.CreatedAt.Local().Format(time.DateTime))
	}
	tw.Flush()
}

func printSignals(w io.Writer, sigs []predictor.Signal) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSYMBOL\tHORIZON\tDIRECTION\tSTRENGTH\tPRICE\tAS OF")
	for _, s := range sigs {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%.3f\t%.2f\t%s\n",
			s.ID, s.Symbol, s.Horizon, s.Direction, s.Strength, s.Price, s.AsOf.Format(time.DateOnly))
	}
	tw.Flush()
}

func printIndicators(w io.Writer, infos []predictor.IndicatorInfo) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCATEGORY\tLOOKBACK\tWEIGHT\tSHORT\tMEDIUM\tLONG")
	for _, i := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\n",
			i.ID, i.Category, i.Lookback, i.Weight, i.Timescale.Short, i.Timescale.Medium, i.Timescale.Long)
	}
	tw.Flush()
}

func formatFactor(pf float64) string {
	if math.IsInf(pf, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.2f", pf)
}
