package mcpserver

// DayLogFormat describes the field grammar save_day_log accepts.
const DayLogFormat = `# DayLens Day Log Format

A day log is saved from a flat JSON object of string fields, the same
names the web editor submits.

## Fields

| Name | Meaning |
|---|---|
| ` + "`date`" + ` | REQUIRED. ` + "`YYYY-MM-DD`" + ` in the server time zone, or RFC 3339. |
| ` + "`notes`" + ` | Free text for the day. |
| ` + "`meditate.duration`" + ` | Minutes, a number >= 0. Anything unparsable counts as 0. |
| ` + "`meditate.type`" + ` | Kind of meditation. |
| ` + "`create[N].description`" + ` | Something made. |
| ` + "`connect[N].people`" + `, ` + "`connect[N].notes`" + ` | Time with people. |
| ` + "`learn[N].topic`" + `, ` + "`learn[N].method`" + ` | Something studied and how. |

## Rules

1. ` + "`N`" + ` is a non-negative integer. Entries are ordered by N; gaps are closed.
2. An entry whose fields are all empty is dropped.
3. Names outside this list are ignored.
4. Saving with an ` + "`id`" + ` replaces that log's content and keeps its creation time.
5. Logs belong to the signed-in account; the owner is never taken from the fields.

## Example

` + "```" + `json
{
  "date": "2024-01-02",
  "create[0].description": "Sketched the garden plan",
  "connect[0].people": "Ann",
  "connect[0].notes": "Lunch",
  "learn[0].topic": "Go generics",
  "learn[0].method": "book",
  "meditate.duration": "15",
  "meditate.type": "breath",
  "notes": "Good day."
}
` + "```" + `
`
