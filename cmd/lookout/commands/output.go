package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/pterm/pterm"

	"github.com/teranos/lookout/pipeline"
)

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printSummaries renders a finished run as a table plus the report path
func printSummaries(result pipeline.Result) {
	if len(result.Summaries) == 0 {
		pterm.Warning.Printf("No detections in %d processed image(s)\n", result.Processed)
	} else {
		rows := [][]string{{"Image", "Label", "Confidence"}}
		for _, s := range result.Summaries {
			rows = append(rows, []string{s.ImageRef, s.Label, strconv.FormatFloat(s.Confidence, 'f', 2, 64)})
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	}
	fmt.Println()
	pterm.Success.Printf("Report: %s\n", result.Report.Path)
}
