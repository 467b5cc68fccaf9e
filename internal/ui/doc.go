// Package ui styles the status lines the tapedeck CLI prints.
//
// A [Palette] holds one [lipgloss.Style] per kind of line. [Default] is used by the command runner; tests build
// their own palette with [NewPalette] or render through [Plain] so output stays free of escape sequences.
package ui
