package source

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mlbrnm/incidentgpt/internal/httpjson"
	"github.com/mlbrnm/incidentgpt/pkg/models"
	"github.com/tidwall/gjson"
)

var severityLabels = []string{"Not classified", "Information", "Warning", "Average", "High", "Disaster"}

// SeverityLabel maps a Zabbix severity code to its label.
func SeverityLabel(code int64) string {
	if code < 0 || int(code) >= len(severityLabels) {
		return "Unknown"
	}
	return severityLabels[code]
}

type ZabbixOptions struct {
	URL   string // JSON-RPC endpoint, usually ending in /api_jsonrpc.php
	Token string
	Days  int
}

type Zabbix struct {
	opts   ZabbixOptions
	client *http.Client
	logger Logger
	now    func() time.Time
}

func NewZabbix(opts ZabbixOptions, client *http.Client, logger Logger) *Zabbix {
	if opts.Days <= 0 {
		opts.Days = 30
	}
	if client == nil {
		client = httpjson.NewClient(0)
	}
	return &Zabbix{opts: opts, client: client, logger: logger, now: time.Now}
}

func (z *Zabbix) Name() models.Source { return models.ZabbixSource }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	Auth    string `json:"auth,omitempty"`
	ID      int    `json:"id"`
}

func (z *Zabbix) call(ctx context.Context, method string, params any) (gjson.Result, error) {
	req, err := httpjson.NewRequest(ctx, http.MethodPost, z.opts.URL, rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		Auth:    z.opts.Token,
		ID:      1,
	})
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json-rpc")

	body, err := httpjson.Do(z.client, req)
	if err != nil {
		return gjson.Result{}, err
	}
	if rpcErr := gjson.GetBytes(body, "error"); rpcErr.Exists() {
		return gjson.Result{}, fmt.Errorf("%w: zabbix %s: %s (%s)", models.ErrTransientCollaborator,
			method, rpcErr.Get("message").String(), rpcErr.Get("data").String())
	}
	result := gjson.GetBytes(body, "result")
	if !result.IsArray() {
		return gjson.Result{}, fmt.Errorf("%w: zabbix %s returned no result array", models.ErrMalformedResponse, method)
	}
	return result, nil
}

// Pull fetches recent problems of severity Warning and above in every
// acknowledged/suppressed combination, newest first.
func (z *Zabbix) Pull(ctx context.Context) ([]models.RawItem, error) {
	since := z.now().AddDate(0, 0, -z.opts.Days).Unix()

	var problems []gjson.Result
	seen := make(map[string]bool)
	for _, ack := range []bool{false, true} {
		for _, suppressed := range []bool{false, true} {
			result, err := z.call(ctx, "problem.get", map[string]any{
				"output":       "extend",
				"selectTags":   "extend",
				"sortfield":    []string{"eventid"},
				"sortorder":    "DESC",
				"limit":        4000,
				"severities":   []int{2, 3, 4, 5},
				"time_from":    since,
				"acknowledged": ack,
				"suppressed":   suppressed,
				"recent":       true,
			})
			if err != nil {
				return nil, err
			}
			for _, p := range result.Array() {
				id := p.Get("eventid").String()
				if id == "" || seen[id] {
					continue
				}
				seen[id] = true
				problems = append(problems, p)
			}
		}
	}
	sort.SliceStable(problems, func(i, j int) bool {
		return problems[i].Get("clock").Int() > problems[j].Get("clock").Int()
	})

	hosts, err := z.hosts(ctx, problems)
	if err != nil {
		return nil, err
	}

	items := make([]models.RawItem, 0, len(problems))
	for _, p := range problems {
		id := p.Get("eventid").String()
		opened := time.Unix(p.Get("clock").Int(), 0).UTC()
		items = append(items, models.RawItem{
			Key:              id,
			Description:      ProblemDescription(p),
			ShortDescription: p.Get("name").String(),
			ContextTag:       hosts[id],
			Status:           SeverityLabel(p.Get("severity").Int()),
			OpenedAt:         &opened,
			URL:              z.eventURL(p.Get("objectid").String(), id),
		})
	}
	z.logger.Infof("Retrieved %d problems from Zabbix", len(items))
	return items, nil
}

// hosts resolves the host names of every problem with a single event.get call.
func (z *Zabbix) hosts(ctx context.Context, problems []gjson.Result) (map[string]string, error) {
	names := make(map[string]string, len(problems))
	if len(problems) == 0 {
		return names, nil
	}
	ids := make([]string, 0, len(problems))
	for _, p := range problems {
		ids = append(ids, p.Get("eventid").String())
	}
	result, err := z.call(ctx, "event.get", map[string]any{
		"output":      []string{"eventid"},
		"selectHosts": []string{"host", "name"},
		"eventids":    ids,
	})
	if err != nil {
		return nil, err
	}
	for _, ev := range result.Array() {
		var hostNames []string
		for _, h := range ev.Get("hosts").Array() {
			name := h.Get("host").String()
			if name == "" {
				name = h.Get("name").String()
			}
			hostNames = append(hostNames, name)
		}
		names[ev.Get("eventid").String()] = strings.Join(hostNames, ", ")
	}
	return names, nil
}

func (z *Zabbix) eventURL(triggerID, eventID string) string {
	base := strings.TrimSuffix(strings.TrimRight(z.opts.URL, "/"), "/api_jsonrpc.php")
	return fmt.Sprintf("%s/tr_events.php?triggerid=%s&eventid=%s", base, triggerID, eventID)
}

// ProblemDescription renders a problem as tag values, a severity line, the
// problem name and its operational data.
func ProblemDescription(p gjson.Result) string {
	var tags []string
	for _, t := range p.Get("tags").Array() {
		tags = append(tags, t.Get("value").String())
	}
	var b strings.Builder
	b.WriteString(strings.Join(tags, ", "))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Problem: (Severity: %s)\n", SeverityLabel(p.Get("severity").Int()))
	if name := p.Get("name").String(); name != "" {
		b.WriteString(name + "\n")
	}
	if opdata := p.Get("opdata").String(); opdata != "" {
		b.WriteString(opdata + "\n")
	}
	return b.String()
}
