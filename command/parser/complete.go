/*
 * scsihba - Command line completion
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

package parser

import (
	"slices"
	"strings"
	"unicode"

	command "github.com/rcornwell/scsihba/command/command"
)

// Called to complete a command line, during line editing.
func CompleteCmd(commandLine string) []string {
	line := cmdLine{line: commandLine}
	name := line.getWord(false)

	// We have a command, let it try and complete it.
	if !line.isEOL() && unicode.IsSpace(rune(line.peek())) {
		match := matchList(name)
		if len(match) != 1 || match[0].Complete == nil {
			return nil
		}
		return match[0].Complete(&line)
	}
	if !line.isEOL() {
		return nil
	}

	// Try and match one command.
	var matches []string
	for _, m := range cmdList {
		if strings.HasPrefix(m.Name, name) {
			matches = append(matches, m.Name+" ")
		}
	}
	slices.Sort(matches)
	return matches
}

// Collect characters up to next space.
func (line *cmdLine) scanToken() string {
	pos := line.pos
	for by := line.peek(); by != 0 && !unicode.IsSpace(rune(by)); by = line.peek() {
		line.pos++
	}
	return strings.ToLower(line.line[pos:line.pos])
}

// True when token ending at pos is the one being typed.
func (line *cmdLine) last() bool {
	return line.pos >= len(line.line)
}

// Complete a word from list.
func (line *cmdLine) scanList(words []string) []string {
	line.skipSpace()
	leading := line.line[:line.pos]
	word := line.scanToken()
	if !line.last() {
		return nil
	}
	var matches []string
	for _, w := range words {
		if strings.HasPrefix(w, word) {
			matches = append(matches, leading+w+" ")
		}
	}
	return matches
}

// Complete the last option on the line.
func (line *cmdLine) scanOptions(opts []command.Options) []string {
	for {
		line.skipSpace()
		if line.isEOL() && !line.last() {
			return nil
		}
		leading := line.line[:line.pos]
		token := line.scanToken()
		if !line.last() {
			continue
		}
		if token == "" && !strings.HasSuffix(leading, " ") {
			return nil
		}

		name, value, equal := strings.Cut(token, "=")
		var matches []string
		if !equal {
			for _, opt := range opts {
				if !strings.HasPrefix(opt.Name, name) {
					continue
				}
				if opt.OptionType == command.OptionSwitch {
					matches = append(matches, leading+opt.Name+" ")
				} else {
					matches = append(matches, leading+opt.Name+"=")
				}
			}
			return matches
		}

		opt := matchOption(name, opts)
		if opt.OptionType != command.OptionList {
			return nil
		}
		for _, v := range opt.OptionList {
			if strings.HasPrefix(v, value) {
				matches = append(matches, leading+name+"="+v+" ")
			}
		}
		return matches
	}
}
