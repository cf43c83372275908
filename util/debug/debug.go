/*
 * scsihba - Debug trace output
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package debug

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	config "github.com/rcornwell/scsihba/config/configparser"
	"github.com/rcornwell/scsihba/config/settings"
)

// Trace areas.
const (
	Queue    = 1 << iota // Start and done queue traffic.
	Nego                 // Transfer negotiation.
	Recovery             // Abort and reset handling.
	DataPtr              // Data pointer and residual calculation.
	Intr                 // Interrupt decoding.
	Tags                 // Tag allocation.
	Seq                  // Simulated sequencer.
	Device               // Simulated targets.
)

var areas = map[string]int{
	"QUEUE":    Queue,
	"NEGO":     Nego,
	"RECOVERY": Recovery,
	"DATAPTR":  DataPtr,
	"INTR":     Intr,
	"TAGS":     Tags,
	"SEQ":      Seq,
	"DEVICE":   Device,
	"ALL":      0xff,
}

var (
	mu      sync.Mutex
	logFile io.Writer
)

// Return mask for named trace area.
func Mask(name string) (int, error) {
	m, ok := areas[strings.ToUpper(name)]
	if !ok {
		return 0, errors.New("debug option invalid: " + name)
	}
	return m, nil
}

// Names of all areas, for completion.
func Names() []string {
	names := make([]string, 0, len(areas))
	for n := range areas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Send trace output to w, nil turns tracing off.
func SetOutput(w io.Writer) {
	mu.Lock()
	logFile = w
	mu.Unlock()
}

// True when trace output has somewhere to go.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return logFile != nil
}

// Generic debug message.
func Debugf(module string, mask int, level int, format string, a ...interface{}) {
	if (mask & level) == 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		fmt.Fprintf(logFile, module+": "+format+"\n", a...)
	}
}

// Target debug message.
func DebugTargetf(target int, mask int, level int, format string, a ...interface{}) {
	if (mask & level) == 0 {
		return
	}
	Debugf("Target "+strconv.Itoa(target), mask, level, format, a...)
}

// Task debug message.
func DebugTaskf(target, lun, tag int, mask int, level int, format string, a ...interface{}) {
	if (mask & level) == 0 {
		return
	}
	Debugf(fmt.Sprintf("%d:%d:%d", target, lun, tag), mask, level, format, a...)
}

// register a debug file on initialize.
func init() {
	config.RegisterFile("DEBUGFILE", create)
}

func create(_ *settings.Settings, _ int, fileName string, _ []config.Option) error {
	mu.Lock()
	defer mu.Unlock()
	if f, ok := logFile.(*os.File); ok && f != nil {
		return fmt.Errorf("can't have more then one debug file, previous: %s", f.Name())
	}

	file, err := os.Create(fileName)
	if err != nil {
		return fmt.Errorf("unable to create debug file: %s", fileName)
	}

	logFile = file
	return nil
}
