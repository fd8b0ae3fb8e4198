package main

import (
	"fmt"
	"time"

	"bitgrind"

	"github.com/pterm/pterm"
)

func printBanner() {
	pterm.DefaultHeader.WithFullWidth(false).Printfln("%s miner v%s", bitgrind.AppName, bitgrind.Version)
}

// printStats displays the final session statistics.
func printStats(stats bitgrind.Stats, result *bitgrind.Result) {
	rows := [][]string{
		{"Duration", stats.Elapsed.Round(time.Second).String()},
		{"Blocks accepted", fmt.Sprintf("%d", stats.BlocksAccepted)},
		{"Hashes tried", fmt.Sprintf("%d", stats.HashesTried)},
	}
	if secs := stats.Elapsed.Seconds(); secs > 0 {
		rows = append(rows, []string{"Avg hash rate", fmt.Sprintf("%.0f H/s", float64(stats.HashesTried)/secs)})
	}
	if result != nil {
		rows = append(rows,
			[]string{"Final difficulty", fmt.Sprintf("%d bits", result.Difficulty)},
			[]string{"Final hash", result.Hash},
			[]string{"Final nonce", result.Nonce},
		)
	}

	pterm.Println()
	_ = pterm.DefaultTable.WithData(rows).Render()
}
