package extract

import (
	"fmt"
	"strings"

	"github.com/sells-group/esg-extract/internal/catalogue"
)

const pass1System = `You extract sustainability data from corporate report pages. The pages are given as text with --- PAGE n --- markers.

Identify two kinds of information:
1. Reported indicators: quantitative values reported for a year or period.
2. Commitments: targets, goals, policy pledges, initiatives or achievements.

Rules:
- Extract every relevant data point, duplicates included.
- Report values and units exactly as they appear. Do not convert or compute anything.
- When a value spans several years (for example a table with year columns), set "year" to the list of years in ascending order.
- "page_number" lists the page numbers from the --- PAGE n --- markers only.
- "source" is a short table or section name.
- If nothing is found, return empty lists.

Return only this JSON object, with no commentary and no code fences:
{
  "reported_indicators": [
    {"indicator_name": "<name>", "year": <int or [int]>, "value": "<value as written>", "unit": "<unit as written>", "page_number": [<int>], "source": "<section>"}
  ],
  "commitments": [
    {"indicator_name": "<name>", "statement_type": "target|policy|initiative|achievement", "goal_text": "<sentence>", "progress_text": "<progress or null>", "page_number": [<int>], "source": "<section>"}
  ]
}`

const pass1Prompt = `Theme: %s

Task: %s

Indicators of interest (name: aliases):
%s
Report pages:

%s`

const pass2System = `You standardise raw sustainability data against a closed indicator list. Return one JSON object and nothing else: no markdown, no comments, no trailing commas.

Hard rules:
- Never invent numbers, years, units or sentences that are not in the input.
- Numeric fields contain plain numbers only (42313000, not "42,313,000"). Never write formulas or expressions such as 8452 + 7581. If the source value is a formula, copy it verbatim into "values_text" and set "values_numeric" to null.
- Map every retained item to an indicator_name from the MASTER LIST. Discard anything that does not map.
- For a multi-year reported indicator, "years" and "values_numeric" (or "values_text") are parallel lists of equal length with years ascending.
- Convert units only when the conversion is straightforward (for example GWh to MWh). Otherwise keep the raw unit and move the value into "values_text".
- A percentage change against a baseline ("reduced by 40% vs 2019") is a commitment, not a reported value.
- page_number and source come straight from the input.

OUTPUT SCHEMA
{
  "reported_indicators": [
    {
      "indicator_name": "<name from MASTER LIST>",
      "years": <int or [int]>,
      "values_numeric": <number, [number] or null>,
      "values_text": <string, [string] or null>,
      "unit": "<unit>",
      "page_number": [<int>],
      "source": "<string or null>"
    }
  ],
  "commitments": [
    {
      "indicator_name": "<name from MASTER LIST>",
      "statement_type": "target|policy|initiative|achievement",
      "goal_text": "<tidied sentence>",
      "progress_text": "<string or null>",
      "target_value": <number or null>,
      "target_unit": "<unit or null>",
      "baseline_year": <int or null>,
      "target_year": <int or null>,
      "page_number": [<int>],
      "source": "<string or null>"
    }
  ]
}

MASTER LIST (name [canonical unit])
%s`

const pass2Prompt = `Raw extraction (grouped by theme):

%s`

// indicatorList renders the theme's indicators for the Pass-1 prompt.
func indicatorList(inds []catalogue.Indicator) string {
	var b strings.Builder
	for _, ind := range inds {
		b.WriteString("- ")
		b.WriteString(ind.Name)
		if len(ind.Aliases) > 0 {
			b.WriteString(": ")
			b.WriteString(strings.Join(ind.Aliases, "; "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// masterList renders the whole catalogue grouped by theme.
func masterList(cat *catalogue.Catalogue) string {
	var b strings.Builder
	for _, th := range cat.Themes() {
		inds := cat.ByTheme(th.Name)
		if len(inds) == 0 {
			continue
		}
		fmt.Fprintf(&b, "# %s\n", th.Name)
		for _, ind := range inds {
			fmt.Fprintf(&b, "%s [%s]\n", ind.Name, ind.UnitCanonical)
		}
	}
	return b.String()
}

func buildPass1Prompt(th *catalogue.Theme, inds []catalogue.Indicator, pages string) string {
	task := th.Task
	if task == "" {
		task = fmt.Sprintf("Extract all quantitative %s metrics and all %s commitments.", th.Name, th.Name)
	}
	return fmt.Sprintf(pass1Prompt, th.Name, task, indicatorList(inds), pages)
}
