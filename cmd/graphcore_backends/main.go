// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// graphcore_backends lists the available backends: the ones compiled in and the backend modules found
// in the search directory. Optionally, it creates one backend and runs a small computation with it.
//
// Usage:
//
//	graphcore_backends [-dir <search dir>] [-check <descriptor>]
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/graphcore/backends"
	"github.com/gomlx/graphcore/backends/interpreter"
	"github.com/gomlx/graphcore/graph"
	"github.com/janpfeifer/must"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

var (
	flagDir = flag.String("dir", "", fmt.Sprintf("Directory to search for backend modules. "+
		"Defaults to $%s or the directory of the executable.", backends.GRAPHCORE_BACKEND_LIBRARY_PATH))
	flagCheck = flag.String("check", "", "Backend descriptor (e.g. \"interpreter:0\") to create and run a small computation with.")
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return headerRowStyle
			case row%2 == 0:
				return evenRowStyle
			default:
				return oddRowStyle
			}
		})
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if len(flag.Args()) > 0 {
		klog.Errorf("Unexpected arguments %q. See 'graphcore_backends -help'.", flag.Args())
		os.Exit(1)
	}

	manager := backends.NewManager(backends.ManagerConfig{SearchDir: *flagDir})
	manager.Register(interpreter.BackendName, interpreter.New)
	list(manager)
	if *flagCheck != "" {
		check(manager, *flagCheck)
	}
}

func list(manager *backends.Manager) {
	modules, err := manager.DiscoverAvailable()
	if err != nil {
		klog.Warningf("Failed to scan for backend modules: %v", err)
	}
	names, _ := manager.RegisteredDevices()

	fmt.Println(titleStyle.Render(fmt.Sprintf("Backends (version %s)", backends.Version)))
	table := newTable().Headers("Name", "Source", "Size")
	for _, name := range names {
		path, isModule := modules[name]
		if !isModule {
			table.Row(name, "static", "-")
			continue
		}
		size := "?"
		if info, err := os.Stat(path); err == nil {
			size = humanize.Bytes(uint64(info.Size()))
		}
		table.Row(name, path, size)
	}
	fmt.Println(table.Render())
	fmt.Printf("Search directory: %s\n", manager.SearchDir())

	if skipped := multierr.Errors(manager.SkippedModules()); len(skipped) > 0 {
		fmt.Println(titleStyle.Render("Skipped modules"))
		for _, err := range skipped {
			fmt.Printf("  - %v\n", err)
		}
	}
}

// check creates the backend and evaluates sum(x*x) for x=[1, 2, 3].
func check(manager *backends.Manager, descriptor string) {
	backend := must.M1(manager.Create(descriptor))
	defer backend.Finalize()
	fmt.Println(titleStyle.Render("Check"))
	fmt.Printf("Backend: %s\n", backend.Description())

	x := graph.Const([]float32{1, 2, 3})
	output := graph.ReduceSum(graph.Mul(x, x))
	exec := must.M1(backend.Compile(output))
	defer exec.Finalize()
	results := must.M1(exec.Execute())
	if got := results[0].Value(); got != float32(14) {
		klog.Errorf("Backend %q computed sum([1, 2, 3]^2) = %v, wanted 14", descriptor, got)
		os.Exit(1)
	}
	fmt.Printf("sum([1, 2, 3]^2) = %v: ok\n", results[0].Value())
}
