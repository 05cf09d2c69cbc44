// Package reports exports a finished run as an xlsx workbook and optionally
// archives it to S3-compatible storage.
package reports

import (
	"fmt"
	"math"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/aristath/forecastbt/internal/domain"
	"github.com/aristath/forecastbt/internal/modules/backtest"
	"github.com/aristath/forecastbt/internal/modules/dataprep"
	"github.com/aristath/forecastbt/internal/modules/walkforward"
)

// Sheet names
const (
	SheetSummary    = "Summary"
	SheetTest       = "Test Chunks"
	SheetValidation = "Validation"
	SheetEquity     = "Equity"
	SheetTrades     = "Trades"
	SheetHistory    = "History"
)

const dateLayout = "2006-01-02"

// Input is one run as seen by the exporter
type Input struct {
	RunID       string
	Symbol      string
	UniqueKey   string
	Split       domain.Split
	Evaluation  *walkforward.Report
	Backtest    *backtest.Result
	GeneratedAt time.Time
}

// Workbook builds the report. The caller owns the returned file and must Close it.
func Workbook(in Input) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to rename default sheet: %w", err)
	}
	for _, name := range []string{SheetTest, SheetValidation, SheetEquity, SheetTrades, SheetHistory} {
		if _, err := f.NewSheet(name); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	w := &sheetWriter{f: f, header: header}
	w.summary(in)
	w.chunks(SheetTest, in.Evaluation.TestResults, in.Evaluation.BestLevel())
	w.chunks(SheetValidation, in.Evaluation.ValidationResults, in.Evaluation.BestLevel())
	if in.Backtest != nil {
		w.equity(in.Backtest)
		w.trades(in.Backtest)
	}
	w.history(in.Split)
	if w.err != nil {
		_ = f.Close()
		return nil, w.err
	}
	f.SetActiveSheet(0)
	return f, nil
}

// sheetWriter keeps the first error so the sheet builders stay linear
type sheetWriter struct {
	f      *excelize.File
	header int
	err    error
}

func (w *sheetWriter) row(sheet string, row int, values ...interface{}) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		w.err = err
		return
	}
	if err := w.f.SetSheetRow(sheet, cell, &values); err != nil {
		w.err = fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
}

func (w *sheetWriter) headerRow(sheet string, values ...interface{}) {
	w.row(sheet, 1, values...)
	if w.err == nil {
		w.err = w.f.SetRowStyle(sheet, 1, 1, w.header)
	}
}

func (w *sheetWriter) summary(in Input) {
	ev := in.Evaluation
	rows := [][]interface{}{
		{"Run", in.RunID},
		{"Symbol", in.Symbol},
		{"Unique key", in.UniqueKey},
		{"Generated", in.GeneratedAt.Format(time.RFC3339)},
		{"State", string(ev.State)},
		{"Best quantile", string(ev.BestLevel())},
		{"Test chunks", len(ev.TestResults)},
		{"Failed chunks", ev.FailedChunks},
	}
	if sel := ev.Selection; sel != nil {
		rows = append(rows,
			[]interface{}{"Composite score", sel.Composite},
			[]interface{}{"Mean MSE", sel.MeanMSE},
			[]interface{}{"Mean MAE", sel.MeanMAE},
			[]interface{}{"Return gap variance", sel.ReturnDiffVariance},
		)
	}
	rows = append(rows,
		[]interface{}{"Validation chunks", ev.Validation.Chunks},
		[]interface{}{"Validation successful", ev.Validation.SuccessfulChunks},
		[]interface{}{"Validation MSE", cellFloat(ev.Validation.MSE)},
		[]interface{}{"Validation MAE", cellFloat(ev.Validation.MAE)},
	)
	if bt := in.Backtest; bt != nil {
		rows = append(rows,
			[]interface{}{"Mode", string(bt.Params.Mode)},
			[]interface{}{"Initial cash", bt.Params.InitialCash},
			[]interface{}{"Final value", bt.FinalNet},
			[]interface{}{"Total return %", bt.Net.TotalPct},
			[]interface{}{"Annualized return %", bt.Net.AnnualizedPct},
			[]interface{}{"Gross return %", bt.Gross.TotalPct},
			[]interface{}{"Benchmark return %", bt.Benchmark.TotalPct},
			[]interface{}{"Excess return %", bt.ExcessReturnPct},
			[]interface{}{"Fees paid", bt.TotalFees},
			[]interface{}{"Trades", len(bt.Trades)},
		)
	}

	w.headerRow(SheetSummary, "Field", "Value")
	for i, r := range rows {
		w.row(SheetSummary, i+2, r...)
	}
}

func (w *sheetWriter) chunks(sheet string, results []walkforward.ChunkResult, level domain.QuantileLevel) {
	w.headerRow(sheet, "Chunk", "Start", "End", "Anchor", "Actual end", "Predicted end", "Predicted %", "Actual %", "MSE", "MAE", "Error")
	for i, r := range results {
		values := []interface{}{r.Index, r.Start.Format(dateLayout), r.End.Format(dateLayout), r.Anchor}
		if n := len(r.Actual); n > 0 {
			values = append(values, r.Actual[n-1])
		} else {
			values = append(values, "")
		}
		if last, ok := r.Forecast.Last(level); ok {
			values = append(values, last)
		} else {
			values = append(values, "")
		}
		if m, ok := r.Score.Metrics[level]; ok {
			values = append(values, m.PredPct, m.ActualPct, m.MSE, m.MAE)
		} else {
			values = append(values, "", "", "", "")
		}
		values = append(values, r.Error)
		w.row(sheet, i+2, values...)
	}
}

func (w *sheetWriter) equity(bt *backtest.Result) {
	w.headerRow(SheetEquity, "Date", "Chunk", "Price", "Cash", "Shares", "Net", "Gross", "Fees", "Net %", "Gross %", "Benchmark %")
	for i, e := range bt.Equity {
		w.row(SheetEquity, i+2, e.Date.Format(dateLayout), e.ChunkIndex, e.Price, e.Cash, e.Shares,
			e.Net, e.Gross, e.CumulativeFees, e.NetPct, e.GrossPct, e.BenchmarkPct)
	}
}

func (w *sheetWriter) trades(bt *backtest.Result) {
	w.headerRow(SheetTrades, "Date", "Chunk", "Action", "Price", "Size", "Notional", "Fee", "Cash after", "Shares after", "Reason")
	for i, t := range bt.Trades {
		w.row(SheetTrades, i+2, t.Date.Format(dateLayout), t.ChunkIndex, t.Action, t.Price, t.Size,
			t.Notional, t.Fee, t.CashAfter, t.SharesAfter, t.Reason)
	}
}

func (w *sheetWriter) history(split domain.Split) {
	fields := []string{dataprep.FieldSMA5, dataprep.FieldSMA20, dataprep.FieldRSI14}
	head := []interface{}{"Date", "Region", "Open", "High", "Low", "Close", "Volume"}
	for _, f := range fields {
		head = append(head, f)
	}
	w.headerRow(SheetHistory, head...)

	row := 2
	for _, region := range []struct {
		name    string
		records []domain.Record
	}{{"train", split.Train}, {"test", split.Test}, {"validation", split.Validation}} {
		for _, r := range region.records {
			values := []interface{}{r.Date.Format(dateLayout), region.name, r.Open, r.High, r.Low, r.Close, r.Volume}
			for _, f := range fields {
				if v, ok := r.Derived[f]; ok {
					values = append(values, v)
				} else {
					values = append(values, "")
				}
			}
			w.row(SheetHistory, row, values...)
			row++
		}
	}
}

// cellFloat leaves failure sentinels blank; xlsx has no infinity
func cellFloat(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return v
}
