package headhunter

import (
	"context"
	"fmt"
	"net/url"
	"reflect"
	"strconv"

	"github.com/mitchellh/mapstructure"

	"github.com/spigell/hh-autoreply/internal/session"
)

const (
	SearchPath = "/vacancies"
)

// SearchQuery is one page of a vacancy search. Fields are mapped to query
// parameters by the hhparam tag; zero values are omitted.
type SearchQuery struct {
	Text           string   `hhparam:"text"`
	Area           string   `hhparam:"area"`
	Salary         int      `hhparam:"salary"`
	OnlyWithSalary bool     `hhparam:"only_with_salary"`
	Experience     string   `hhparam:"experience"`
	Schedules      []string `hhparam:"schedule"`
	SearchField    string   `hhparam:"search_field"`
	OrderBy        string   `hhparam:"order_by"`
	Period         int      `hhparam:"period"`
	Page           int      `hhparam:"page"`
	PerPage        int      `hhparam:"per_page"`
}

// VacancyPage is one page of search results.
type VacancyPage struct {
	Items   []*Vacancy
	Found   int
	Pages   int
	Page    int
	PerPage int
}

// FetchVacancyList returns a single page of search results.
func (c *Client) FetchVacancyList(ctx context.Context, headers session.Headers, cookies session.Cookies, query SearchQuery) (*VacancyPage, session.Cookies, error) {
	if query.PerPage <= 0 || query.PerPage > MaxPerPage {
		query.PerPage = MaxPerPage
	}

	creds := credentials{headers: headers, cookies: cookies}
	response, observed, err := c.getItems(ctx, creds, c.APIURL+SearchPath, buildParams(query))
	if err != nil {
		return nil, observed, err
	}

	vacancies, err := decodeVacancies(response.Items)
	if err != nil {
		return nil, observed, err
	}

	return &VacancyPage{
		Items:   vacancies,
		Found:   response.Found,
		Pages:   response.Pages,
		Page:    response.Page,
		PerPage: response.PerPage,
	}, observed, nil
}

func decodeVacancies(items []map[string]any) ([]*Vacancy, error) {
	var vacancies []*Vacancy

	cfg := &mapstructure.DecoderConfig{
		Result:           &vacancies,
		TagName:          "json",
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(items); err != nil {
		return nil, fmt.Errorf("decode vacancies: %w", err)
	}

	return vacancies, nil
}

func buildParams(query SearchQuery) url.Values {
	q := url.Values{}
	value := reflect.ValueOf(query)

	for _, field := range reflect.VisibleFields(value.Type()) {
		// hhparam is our custom tag.
		key := field.Tag.Get("hhparam")
		if key == "" {
			continue
		}

		fv := value.FieldByIndex(field.Index)
		if fv.IsZero() {
			continue
		}

		switch v := fv.Interface().(type) {
		case []string:
			for _, s := range v {
				q.Add(key, s)
			}
		case []int:
			for _, n := range v {
				q.Add(key, strconv.Itoa(n))
			}
		default:
			q.Set(key, fmt.Sprintf("%v", v))
		}
	}

	return q
}
