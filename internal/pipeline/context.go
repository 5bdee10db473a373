// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package pipeline orchestrates dataset characterization and noise simulation
// on top of the statistics, fitting and simulation packages.
package pipeline

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"
)

// An execution context for pipeline stages
type Context struct {
	Log        io.Writer `json:"-"`
	MemoryMB   int       `json:"memoryMB"`   // memory.TotalMemory()/1024/1024
	BudgetMB   int       `json:"budgetMB"`   // share of MemoryMB the pipeline may use
	MaxThreads int       `json:"maxThreads"` // concurrent workers
}

// Creates a context logging to the given writer, allowing memoryPercent of physical
// memory and maxThreads workers. maxThreads<=0 selects one per logical CPU
func NewContext(log io.Writer, memoryPercent, maxThreads int) *Context {
	if log == nil {
		log = io.Discard
	}
	memoryMB := int(memory.TotalMemory() / 1024 / 1024)
	if maxThreads <= 0 {
		maxThreads = runtime.GOMAXPROCS(0)
	}
	if memoryPercent <= 0 || memoryPercent > 100 {
		memoryPercent = 70
	}
	return &Context{
		Log:        log,
		MemoryMB:   memoryMB,
		BudgetMB:   memoryMB * memoryPercent / 100,
		MaxThreads: maxThreads,
	}
}

// Writes a line describing the host and the resources this context may use
func (c *Context) PrintSystemInfo() {
	cores := fmt.Sprintf("%d physical / %d logical cores", cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores)
	if cpuid.CPU.PhysicalCores == 0 {
		cores = fmt.Sprintf("%d CPUs", runtime.NumCPU())
	}
	fmt.Fprintf(c.Log, "Running on %s with %s and %d MB memory. Using %d threads and up to %d MB.\n",
		cpuid.CPU.BrandName, cores, c.MemoryMB, c.MaxThreads, c.BudgetMB)
}

// Returned when a stage would need more memory than the budget allows
type MemoryBudgetError struct {
	Op       string
	NeedMB   int
	BudgetMB int
}

func (e *MemoryBudgetError) Error() string {
	return fmt.Sprintf("%s: needs about %d MB of memory, budget is %d MB", e.Op, e.NeedMB, e.BudgetMB)
}

// Refuses to start a stage whose estimated peak exceeds the memory budget.
// A budget of zero, e.g. when physical memory cannot be detected, is not enforced
func (c *Context) CheckMemory(op string, bytes int64) error {
	needMB := int((bytes + 1024*1024 - 1) / 1024 / 1024)
	if c.BudgetMB > 0 && needMB > c.BudgetMB {
		return &MemoryBudgetError{Op: op, NeedMB: needMB, BudgetMB: c.BudgetMB}
	}
	return nil
}

// Calls fn for all indices in [0,n) with at most maxThreads concurrent calls.
// Waits for all calls, and returns the errors of all failed calls joined
// in index order
func ParallelFor(n, maxThreads int, fn func(i int) error) error {
	if n <= 0 {
		return nil
	}
	if maxThreads < 1 {
		maxThreads = 1
	}
	errs := make([]error, n)
	limiter := make(chan bool, maxThreads)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		limiter <- true
		wg.Add(1)
		go func(i int) {
			defer func() { <-limiter; wg.Done() }()
			errs[i] = fn(i)
		}(i)
	}
	wg.Wait()
	return errors.Join(errs...)
}
