package catalog

import "sort"

// Tool documents one capability for listings
type Tool struct {
	ID          string      `json:"id"`
	Group       string      `json:"group"`
	Method      string      `json:"method"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Returns     string      `json:"returns"`
}

// Parameter documents one field of a capability's parameter object
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

var schemaParam = Parameter{Name: "schema", Type: "string", Description: "Schema name; driver default when omitted"}

var tools = []Tool{
	{
		ID: "core.listSchemas", Group: GroupCore, Method: "listSchemas",
		Description: "List schemas visible to the connection",
		Parameters:  []Parameter{},
		Returns:     "string[]",
	},
	{
		ID: "core.listTables", Group: GroupCore, Method: "listTables",
		Description: "List tables and views in a schema",
		Parameters:  []Parameter{schemaParam},
		Returns:     "{schema, name, kind}[]",
	},
	{
		ID: "core.describeTable", Group: GroupCore, Method: "describeTable",
		Description: "Describe the columns of a table",
		Parameters: []Parameter{
			{Name: "table", Type: "string", Description: "Table name", Required: true},
			schemaParam,
		},
		Returns: "{schema, name, columns}",
	},
	{
		ID: "query.run", Group: GroupQuery, Method: "run",
		Description: "Run a single read-only statement",
		Parameters: []Parameter{
			{Name: "sql", Type: "string", Description: "SELECT, WITH, VALUES, TABLE or SHOW statement", Required: true},
			{Name: "params", Type: "array", Description: "Positional statement arguments"},
			{Name: "limit", Type: "number", Description: "Maximum rows, capped by the server row limit"},
		},
		Returns: "{columns, rows, rowCount, truncated}",
	},
	{
		ID: "query.explain", Group: GroupQuery, Method: "explain",
		Description: "Show the query plan of a read-only statement",
		Parameters: []Parameter{
			{Name: "sql", Type: "string", Description: "Statement to explain", Required: true},
		},
		Returns: "string[]",
	},
	{
		ID: "admin.serverVersion", Group: GroupAdmin, Method: "serverVersion",
		Description: "Report the database driver and server version",
		Parameters:  []Parameter{},
		Returns:     "{driver, version}",
	},
	{
		ID: "admin.tableStats", Group: GroupAdmin, Method: "tableStats",
		Description: "Report row counts and sizes per table",
		Parameters:  []Parameter{schemaParam},
		Returns:     "{schema, name, rows, sizeBytes}[]",
	},
}

// Tools describes the capabilities present in shape, in group and method
// order. Methods without documentation are listed with their name only.
func Tools(shape map[string][]string) []Tool {
	docs := make(map[string]Tool, len(tools))
	for _, t := range tools {
		docs[t.ID] = t
	}

	groups := make([]string, 0, len(shape))
	for g := range shape {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	var out []Tool
	for _, g := range groups {
		for _, m := range shape[g] {
			id := g + "." + m
			t, ok := docs[id]
			if !ok {
				t = Tool{ID: id, Group: g, Method: m, Parameters: []Parameter{}}
			}
			out = append(out, t)
		}
	}
	return out
}
