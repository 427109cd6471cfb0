package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
)

type outputMode struct {
	json bool
}

func (o outputMode) printJSON(value any) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fatal("format json", err)
	}
	fmt.Println(string(data))
}

func (o outputMode) table(rows [][]string) {
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

// result prints value as JSON or as key/value rows.
func (o outputMode) result(value any, rows [][]string) {
	if o.json {
		o.printJSON(value)
		return
	}
	o.table(rows)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
