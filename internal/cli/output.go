package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Output печатает результаты команд: таблицей для человека или JSON для скриптов.
// Данные идут в stdout, подтверждения в stderr, чтобы `--json | jq` видел только данные.
type Output struct {
	jsonMode bool
	data     io.Writer
	notes    io.Writer
}

func NewOutput(jsonMode bool) *Output {
	return NewOutputTo(jsonMode, os.Stdout, os.Stderr)
}

// NewOutputTo — Output с явными writers (тесты).
func NewOutputTo(jsonMode bool, data, notes io.Writer) *Output {
	return &Output{jsonMode: jsonMode, data: data, notes: notes}
}

// Print выводит rows под заголовками или v целиком в JSON-режиме.
func (o *Output) Print(headers []string, rows [][]string, v any) {
	if o.jsonMode {
		o.writeJSON(v)
		return
	}
	o.Table(headers, rows)
}

// Table печатает выровненную таблицу с подчёркнутыми заголовками.
func (o *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.data, 0, 0, 2, ' ', 0)
	underline := make([]string, len(headers))
	for i, h := range headers {
		underline[i] = strings.Repeat("-", len(h))
	}
	for _, line := range append([][]string{headers, underline}, rows...) {
		fmt.Fprintln(tw, strings.Join(line, "\t"))
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(o.notes, "write table: %v\n", err)
	}
}

func (o *Output) writeJSON(v any) {
	enc := json.NewEncoder(o.data)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(o.notes, "encode json: %v\n", err)
	}
}

// Text печатает строку в stdout; в JSON-режиме молчит.
func (o *Output) Text(format string, args ...any) {
	if !o.jsonMode {
		fmt.Fprintf(o.data, format, args...)
	}
}

// Success — подтверждение действия (stderr).
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.notes, msg)
}
