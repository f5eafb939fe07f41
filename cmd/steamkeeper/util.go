package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/loykin/steamkeeper/pkg/client"
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

func success(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintln(w, color.GreenString("[+] ")+fmt.Sprintf(format, args...))
}

func failure(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintln(w, color.RedString("[x] ")+fmt.Sprintf(format, args...))
}

func warn(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintln(w, color.YellowString("[!] ")+fmt.Sprintf(format, args...))
}

func info(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintln(w, color.CyanString("[*] ")+fmt.Sprintf(format, args...))
}

func errorText(err error) string {
	return color.RedString("[x] ") + err.Error()
}

// statusText colours a profile or queue status.
func statusText(s string) string {
	switch strings.ToLower(s) {
	case "running", "processing":
		return color.CyanString(s)
	case "completed":
		return color.GreenString(s)
	case "error":
		return color.RedString(s)
	case "pending":
		return color.YellowString(s)
	default:
		return s
	}
}

// printLine colours a persisted log line by its level tag.
func printLine(w io.Writer, line string) {
	switch {
	case strings.Contains(line, " [ERROR] "):
		line = color.RedString(line)
	case strings.Contains(line, " [WARNING] "):
		line = color.YellowString(line)
	case strings.Contains(line, " [SUCCESS] "):
		line = color.GreenString(line)
	}
	_, _ = fmt.Fprintln(w, line)
}

func printJobs(w io.Writer, title string, jobs []client.Job) {
	_, _ = fmt.Fprintf(w, "%s (%d)\n", title, len(jobs))
	for _, j := range jobs {
		name := j.AppName
		if name == "" {
			name = j.AppID
		}
		line := fmt.Sprintf("  #%-4d %-12s %-20s %-24s", j.Order, statusText(j.Status), j.ProfileName, name)
		if !j.IsMainApp && j.ParentAppID != "" {
			line += " (dependency of " + j.ParentAppID + ")"
		}
		if j.Error != "" {
			line += " " + color.RedString(j.Error)
		}
		_, _ = fmt.Fprintln(w, line)
	}
}
