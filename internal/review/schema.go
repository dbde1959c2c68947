package review

import "eventdesk/internal/filter"

// ApplicationSchema maps the review list's query parameters to
// application fields.
var ApplicationSchema = filter.Schema{
	"applicant": {Field: "applicant_name", Kind: filter.KindText},
	"email":     {Field: "email", Kind: filter.KindText},
	"comment":   {Field: "comment", Kind: filter.KindText},
	"status":    {Field: "status", Kind: filter.KindCategory},
	"encrypted": {Field: "encrypted", Kind: filter.KindCategory},
}
