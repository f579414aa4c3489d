package ui

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Template functions available in all templates.
var templateFuncs = template.FuncMap{
	"formatTime": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Format("2006-01-02 15:04:05")
	},
	"formatTimePtr": func(t *time.Time) string {
		if t == nil || t.IsZero() {
			return "-"
		}
		return t.Format("2006-01-02 15:04:05")
	},
	"ago": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return humanize.Time(t)
	},
	"bytes": func(n uint64) string {
		return humanize.IBytes(n)
	},
	"comma": func(n uint64) string {
		return humanize.Comma(int64(n))
	},
	"percent": func(a, b uint64) uint64 {
		if b == 0 {
			return 0
		}
		return a * 100 / b
	},
	"hex": func(v uint64) string {
		return fmt.Sprintf("%#x", v)
	},
	"stateColor": func(state string) string {
		switch strings.ToUpper(state) {
		case "READY":
			return "bg-yellow-100 text-yellow-800"
		case "RUNNING":
			return "bg-blue-100 text-blue-800"
		case "BLOCKED", "WAITING":
			return "bg-purple-100 text-purple-800"
		case "TERMINATED":
			return "bg-gray-100 text-gray-800"
		default:
			return "bg-gray-100 text-gray-800"
		}
	},
	"kindColor": func(kind string) string {
		switch kind {
		case "panic":
			return "text-red-600 font-semibold"
		case "exit", "reclaim":
			return "text-green-700"
		case "block", "wait", "wake":
			return "text-purple-700"
		case "preempt":
			return "text-orange-600"
		case "idle":
			return "text-gray-400"
		default:
			return "text-gray-700"
		}
	},
	"truncate": func(s string, n int) string {
		if len(s) <= n {
			return s
		}
		return s[:n] + "..."
	},
}

// renderTemplate renders a page inside the layout.
func renderTemplate(w io.Writer, name string, data map[string]any) error {
	tmpl, err := parsePage(name)
	if err != nil {
		return err
	}
	return tmpl.Execute(w, data)
}

// parsePage parses the layout with the named page as its content.
func parsePage(name string) (*template.Template, error) {
	content, ok := templates[name]
	if !ok {
		return nil, fmt.Errorf("template not found: %s", name)
	}
	layout, ok := templates["layout"]
	if !ok {
		return nil, fmt.Errorf("layout template not found")
	}

	tmpl, err := template.New("layout").Funcs(templateFuncs).Parse(layout)
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	if _, err := tmpl.New("content").Parse(content); err != nil {
		return nil, fmt.Errorf("parse content: %w", err)
	}
	if err := parseComponents(tmpl); err != nil {
		return nil, err
	}
	return tmpl, nil
}

// renderComponent renders one shared component on its own.
func renderComponent(w io.Writer, name string, data any) error {
	tmpl := template.New("root").Funcs(templateFuncs)
	if err := parseComponents(tmpl); err != nil {
		return err
	}
	return tmpl.ExecuteTemplate(w, name, data)
}

func parseComponents(tmpl *template.Template) error {
	for compName, compContent := range templates {
		if strings.HasPrefix(compName, "components/") {
			if _, err := tmpl.New(compName).Parse(compContent); err != nil {
				return fmt.Errorf("parse component %s: %w", compName, err)
			}
		}
	}
	return nil
}

// templates holds all template content.
var templates = map[string]string{
	"layout": `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <script src="https://unpkg.com/htmx.org@1.9.10"></script>
    <script src="https://cdn.tailwindcss.com"></script>
</head>
<body class="bg-gray-50 min-h-screen">
    <nav class="bg-white shadow-sm border-b">
        <div class="max-w-7xl mx-auto px-4 sm:px-6 lg:px-8">
            <div class="flex h-16">
                <a href="/" class="flex items-center px-2 py-2 text-xl font-bold text-indigo-600">kernsim</a>
                <div class="ml-6 flex space-x-8">
                    <a href="/" class="text-gray-500 hover:text-gray-700 inline-flex items-center px-1 pt-1 text-sm font-medium">Machine</a>
                    <a href="/runs" class="text-gray-500 hover:text-gray-700 inline-flex items-center px-1 pt-1 text-sm font-medium">Runs</a>
                    <a href="/api/v1/" class="text-gray-500 hover:text-gray-700 inline-flex items-center px-1 pt-1 text-sm font-medium">API</a>
                </div>
            </div>
        </div>
    </nav>
    <main class="max-w-7xl mx-auto py-6 sm:px-6 lg:px-8">
        {{template "content" .}}
    </main>
</body>
</html>`,

	"dashboard": `{{define "content"}}
<div class="px-4 py-6 sm:px-0">
    <div class="mb-8">
        <h1 class="text-2xl font-semibold text-gray-900">Machine</h1>
        <p class="mt-1 text-sm text-gray-500">Up {{.Uptime}}</p>
    </div>

    {{if .MachineError}}
    <div class="rounded-md bg-red-50 p-4 mb-8">
        <div class="text-sm text-red-700">Machine unavailable: {{.MachineError}}</div>
    </div>
    {{else}}
    <div class="grid grid-cols-1 gap-5 sm:grid-cols-2 lg:grid-cols-4 mb-8">
        <div class="bg-white shadow rounded-lg p-5">
            <dt class="text-sm font-medium text-gray-500">Ticks</dt>
            <dd class="text-lg font-semibold text-gray-900">{{comma .Stats.Ticks}}</dd>
            <dd class="text-xs text-gray-500">{{comma .Stats.IdleTicks}} idle</dd>
        </div>
        <div class="bg-white shadow rounded-lg p-5">
            <dt class="text-sm font-medium text-gray-500">Processes</dt>
            <dd class="text-lg font-semibold text-blue-600">{{.Stats.Live}} / {{.Stats.Capacity}}</dd>
            <dd class="text-xs text-gray-500">{{.Stats.Ready}} ready, {{.Stats.Reaped}} reaped</dd>
        </div>
        <div class="bg-white shadow rounded-lg p-5">
            <dt class="text-sm font-medium text-gray-500">Dispatches</dt>
            <dd class="text-lg font-semibold text-gray-900">{{comma .Stats.Dispatches}}</dd>
            <dd class="text-xs text-gray-500">{{comma .Stats.Preempts}} preemptions, <span class="text-red-600">{{.Stats.Faults}} faults</span></dd>
        </div>
        <div class="bg-white shadow rounded-lg p-5">
            <dt class="text-sm font-medium text-gray-500">Memory</dt>
            <dd class="text-lg font-semibold text-gray-900">{{bytes .Stats.MemoryUsed}} of {{bytes .Stats.MemoryTotal}}</dd>
            <div class="mt-2 h-2 bg-gray-200 rounded"><div class="h-2 bg-indigo-500 rounded" style="width: {{percent .Stats.MemoryUsed .Stats.MemoryTotal}}%"></div></div>
        </div>
    </div>

    <div class="bg-white shadow rounded-lg mb-8">
        <div class="px-4 py-5 border-b"><h2 class="text-lg font-medium text-gray-900">Live processes</h2></div>
        <div id="process-table" hx-get="/fragments/processes" hx-trigger="every {{.Refresh}}ms" hx-swap="innerHTML">
            {{template "process_table" .Processes}}
        </div>
    </div>
    {{end}}

    {{if .RecentRuns}}
    <div class="bg-white shadow rounded-lg">
        <div class="px-4 py-5 border-b flex justify-between">
            <h2 class="text-lg font-medium text-gray-900">Recent runs</h2>
            <a href="/runs" class="text-sm text-indigo-600 hover:text-indigo-500">All {{.RunCount}} runs</a>
        </div>
        <ul class="divide-y divide-gray-200">
            {{range .RecentRuns}}
            <li class="px-4 py-3 flex justify-between text-sm">
                <a href="/runs/{{.ID}}" class="font-mono text-indigo-600">{{.ID}}</a>
                <span class="text-gray-500">started {{ago .StartedAt}}{{if .FinishedAt}}, {{comma .Ticks}} ticks{{else}}, running{{end}}</span>
            </li>
            {{end}}
        </ul>
    </div>
    {{end}}
</div>
{{end}}`,

	"runs": `{{define "content"}}
<div class="px-4 py-6 sm:px-0">
    <h1 class="text-2xl font-semibold text-gray-900 mb-6">Runs</h1>
    {{if .Runs}}
    <div class="bg-white shadow rounded-lg overflow-hidden">
        <table class="min-w-full divide-y divide-gray-200 text-sm">
            <thead class="bg-gray-50">
                <tr>
                    <th class="px-4 py-3 text-left font-medium text-gray-500">ID</th>
                    <th class="px-4 py-3 text-left font-medium text-gray-500">Started</th>
                    <th class="px-4 py-3 text-left font-medium text-gray-500">Finished</th>
                    <th class="px-4 py-3 text-right font-medium text-gray-500">Ticks</th>
                </tr>
            </thead>
            <tbody class="divide-y divide-gray-200">
                {{range .Runs}}
                <tr>
                    <td class="px-4 py-3 font-mono"><a href="/runs/{{.ID}}" class="text-indigo-600">{{.ID}}</a></td>
                    <td class="px-4 py-3 text-gray-500">{{formatTime .StartedAt}}</td>
                    <td class="px-4 py-3 text-gray-500">{{formatTimePtr .FinishedAt}}</td>
                    <td class="px-4 py-3 text-right">{{comma .Ticks}}</td>
                </tr>
                {{end}}
            </tbody>
        </table>
    </div>
    {{with .Pagination}}
    <div class="mt-4 flex justify-between text-sm text-gray-500">
        <span>{{.Total}} runs</span>
        <span>
            {{if .HasPrev}}<a href="/runs?offset={{.PrevOffset}}&limit={{.Limit}}" class="text-indigo-600">Previous</a>{{end}}
            {{if .HasMore}}<a href="/runs?offset={{.NextOffset}}&limit={{.Limit}}" class="ml-4 text-indigo-600">Next</a>{{end}}
        </span>
    </div>
    {{end}}
    {{else}}
    <p class="text-sm text-gray-500">No runs recorded.</p>
    {{end}}
</div>
{{end}}`,

	"run_detail": `{{define "content"}}
<div class="px-4 py-6 sm:px-0">
    <h1 class="text-2xl font-semibold text-gray-900 font-mono">{{.Run.ID}}</h1>
    <p class="mt-1 text-sm text-gray-500">
        Started {{formatTime .Run.StartedAt}}{{if .Run.FinishedAt}}, finished {{formatTimePtr .Run.FinishedAt}} after {{comma .Run.Ticks}} ticks{{else}}, still running{{end}}
    </p>

    <details class="mt-4 bg-white shadow rounded-lg p-4">
        <summary class="text-sm font-medium text-gray-700 cursor-pointer">Machine configuration</summary>
        <pre class="mt-2 text-xs text-gray-600">{{.Run.Config}}</pre>
    </details>

    <div class="mt-8 bg-white shadow rounded-lg">
        <div class="px-4 py-5 border-b"><h2 class="text-lg font-medium text-gray-900">Reaped processes</h2></div>
        {{template "process_table" .Processes}}
    </div>

    <div class="mt-8 bg-white shadow rounded-lg">
        <div class="px-4 py-5 border-b flex justify-between items-center">
            <h2 class="text-lg font-medium text-gray-900">Events</h2>
            <form method="GET" class="flex space-x-2 text-sm">
                <input name="kind" value="{{.Kind}}" placeholder="kind" class="border rounded px-2 py-1 w-28">
                <input name="pid" value="{{if .PID}}{{.PID}}{{end}}" placeholder="pid" class="border rounded px-2 py-1 w-20">
                <button type="submit" class="px-3 py-1 bg-indigo-600 text-white rounded">Filter</button>
            </form>
        </div>
        <table class="min-w-full divide-y divide-gray-200 text-sm font-mono">
            <thead class="bg-gray-50">
                <tr>
                    <th class="px-4 py-2 text-right text-gray-500">Seq</th>
                    <th class="px-4 py-2 text-right text-gray-500">Tick</th>
                    <th class="px-4 py-2 text-left text-gray-500">Kind</th>
                    <th class="px-4 py-2 text-left text-gray-500">Process</th>
                    <th class="px-4 py-2 text-left text-gray-500">Detail</th>
                </tr>
            </thead>
            <tbody class="divide-y divide-gray-100">
                {{range .Events}}
                <tr>
                    <td class="px-4 py-1 text-right text-gray-400">{{.Seq}}</td>
                    <td class="px-4 py-1 text-right">{{.Tick}}</td>
                    <td class="px-4 py-1 {{kindColor (print .Kind)}}">{{.Kind}}</td>
                    <td class="px-4 py-1">{{if .PID}}{{.PID}} {{.Name}}{{else}}-{{end}}</td>
                    <td class="px-4 py-1 text-gray-600">{{if .Error}}{{truncate .Error 120}}{{else}}{{.Detail}}{{end}}</td>
                </tr>
                {{end}}
            </tbody>
        </table>
        {{$kind := .Kind}}{{$pid := .PID}}
        {{with .Pagination}}
        <div class="px-4 py-3 flex justify-between text-sm text-gray-500">
            <span>{{.Total}} events</span>
            <span>
                {{if .HasPrev}}<a href="?offset={{.PrevOffset}}&limit={{.Limit}}&kind={{$kind}}{{if $pid}}&pid={{$pid}}{{end}}" class="text-indigo-600">Previous</a>{{end}}
                {{if .HasMore}}<a href="?offset={{.NextOffset}}&limit={{.Limit}}&kind={{$kind}}{{if $pid}}&pid={{$pid}}{{end}}" class="ml-4 text-indigo-600">Next</a>{{end}}
            </span>
        </div>
        {{end}}
    </div>
</div>
{{end}}`,

	"error": `{{define "content"}}
<div class="px-4 py-16 text-center">
    <h1 class="text-2xl font-semibold text-gray-900">{{.Title}}</h1>
    <p class="mt-2 text-gray-500">{{.Message}}</p>
    <a href="/" class="mt-6 inline-block text-indigo-600">Back to the machine</a>
</div>
{{end}}`,

	"components/process_table": `{{define "process_table"}}
{{if .}}
<table class="min-w-full divide-y divide-gray-200 text-sm">
    <thead class="bg-gray-50">
        <tr>
            <th class="px-4 py-2 text-right font-medium text-gray-500">PID</th>
            <th class="px-4 py-2 text-left font-medium text-gray-500">Name</th>
            <th class="px-4 py-2 text-left font-medium text-gray-500">State</th>
            <th class="px-4 py-2 text-right font-medium text-gray-500">Prio</th>
            <th class="px-4 py-2 text-right font-medium text-gray-500">Slice</th>
            <th class="px-4 py-2 text-right font-medium text-gray-500">CPU</th>
            <th class="px-4 py-2 text-right font-medium text-gray-500">Dispatches</th>
            <th class="px-4 py-2 text-left font-medium text-gray-500">Kernel SP</th>
            <th class="px-4 py-2 text-left font-medium text-gray-500">Note</th>
        </tr>
    </thead>
    <tbody class="divide-y divide-gray-200">
        {{range .}}
        <tr>
            <td class="px-4 py-2 text-right">{{.PID}}</td>
            <td class="px-4 py-2">{{.Name}}</td>
            <td class="px-4 py-2"><span class="px-2 py-0.5 rounded-full text-xs {{stateColor (print .State)}}">{{.State}}</span></td>
            <td class="px-4 py-2 text-right">{{.Priority}}</td>
            <td class="px-4 py-2 text-right">{{.TimeSlice}}</td>
            <td class="px-4 py-2 text-right">{{comma .CPUTime}}</td>
            <td class="px-4 py-2 text-right">{{comma .Dispatches}}</td>
            <td class="px-4 py-2 font-mono text-xs">{{hex .KernelStackPointer}}</td>
            <td class="px-4 py-2 text-gray-500">{{if .ExitCause}}<span class="text-red-600">{{truncate .ExitCause 80}}</span>{{else if .BlockReason}}{{.BlockReason}}{{else if eq (print .State) "TERMINATED"}}exit {{.ExitStatus}}{{end}}</td>
        </tr>
        {{end}}
    </tbody>
</table>
{{else}}
<p class="px-4 py-4 text-sm text-gray-500">No processes.</p>
{{end}}
{{end}}`,
}
