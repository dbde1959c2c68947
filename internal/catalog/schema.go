package catalog

import "eventdesk/internal/filter"

// EventSchema maps the event list's query parameters to event fields.
var EventSchema = filter.Schema{
	"title":       {Field: "title", Kind: filter.KindText},
	"description": {Field: "description", Kind: filter.KindText},
	"organizer":   {Field: "organizer", Kind: filter.KindText},
	"location":    {Field: "location", Kind: filter.KindCategory},
	"type":        {Field: "type", Kind: filter.KindCategory},
	"format":      {Field: "format", Kind: filter.KindCategory},
	"open":        {Field: "registration_open", Kind: filter.KindCategory},
}
