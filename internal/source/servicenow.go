// Package source implements the upstream systems work items are pulled from.
package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mlbrnm/incidentgpt/internal/httpjson"
	"github.com/mlbrnm/incidentgpt/pkg/models"
	"github.com/tidwall/gjson"
)

// States a ServiceNow query excludes: On Hold, Pending, Resolved, Closed, Canceled.
const excludedStates = "3,4,6,7,8"

const serviceNowFields = "sys_id,number,assignment_group,description,opened_at,short_description,cmdb_ci,state,work_notes"

var stateLabels = map[string]string{
	"1": "New",
	"2": "In Progress",
	"3": "On Hold",
	"4": "Pending",
	"5": "Pending Approval",
	"6": "Resolved",
	"7": "Closed",
	"8": "Canceled",
}

// StateLabel maps a ServiceNow state code to its label. Values that are not
// known codes, such as display values, are returned unchanged.
func StateLabel(state string) string {
	if label, ok := stateLabels[state]; ok {
		return label
	}
	if state == "" {
		return "Unknown"
	}
	return state
}

type ServiceNowOptions struct {
	Endpoint        string // table API URL, e.g. https://x.service-now.com/api/now/table/incident
	Instance        string // base URL used for item links
	User            string
	Password        string
	AssignmentGroup string
	Limit           int
}

type ServiceNow struct {
	opts   ServiceNowOptions
	client *http.Client
	logger Logger
}

func NewServiceNow(opts ServiceNowOptions, client *http.Client, logger Logger) *ServiceNow {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if client == nil {
		client = httpjson.NewClient(0)
	}
	return &ServiceNow{opts: opts, client: client, logger: logger}
}

func (s *ServiceNow) Name() models.Source { return models.ServiceNowSource }

// Query returns the sysparm_query selecting open incidents of the assignment group, newest first.
func (s *ServiceNow) Query() string {
	return fmt.Sprintf("assignment_group=%s^stateNOT IN%s^ORDERBYDESCopened_at", s.opts.AssignmentGroup, excludedStates)
}

func (s *ServiceNow) Pull(ctx context.Context) ([]models.RawItem, error) {
	params := url.Values{}
	params.Set("sysparm_limit", fmt.Sprint(s.opts.Limit))
	params.Set("sysparm_display_value", "true")
	params.Set("sysparm_fields", serviceNowFields)
	params.Set("sysparm_query", s.Query())

	req, err := httpjson.NewRequest(ctx, http.MethodGet, s.opts.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(s.opts.User, s.opts.Password)

	start := time.Now()
	body, err := httpjson.Do(s.client, req)
	if err != nil {
		return nil, err
	}
	result := gjson.GetBytes(body, "result")
	if !result.IsArray() {
		return nil, fmt.Errorf("%w: servicenow response has no result array", models.ErrMalformedResponse)
	}
	s.logger.Debugf("ServiceNow answered in %s", time.Since(start).Round(time.Millisecond))

	var items []models.RawItem
	for _, inc := range result.Array() {
		number := inc.Get("number").String()
		if number == "" {
			s.logger.Warnf("Skipping ServiceNow incident without a number (sys_id %s)", inc.Get("sys_id").String())
			continue
		}
		items = append(items, models.RawItem{
			Key:              number,
			Description:      inc.Get("description").String(),
			ShortDescription: inc.Get("short_description").String(),
			ContextTag:       displayValue(inc.Get("cmdb_ci")),
			Status:           inc.Get("state").String(),
			WorkNotes:        inc.Get("work_notes").String(),
			OpenedAt:         parseServiceNowTime(inc.Get("opened_at").String()),
			URL:              s.itemURL(inc.Get("sys_id").String()),
		})
	}
	s.logger.Infof("Retrieved %d incidents from ServiceNow", len(items))
	return items, nil
}

func (s *ServiceNow) itemURL(sysID string) string {
	return fmt.Sprintf("%s/nav_to.do?uri=incident.do?sys_id=%s", strings.TrimRight(s.opts.Instance, "/"), sysID)
}

// displayValue reads reference fields, which arrive either as
// {"display_value": ..., "link": ...} or as a plain string.
func displayValue(v gjson.Result) string {
	if v.IsObject() {
		return v.Get("display_value").String()
	}
	return v.String()
}

func parseServiceNowTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC)
	if err != nil {
		return nil
	}
	return &t
}
