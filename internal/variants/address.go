package variants

import "strings"

// TagPostalAddress is the registry tag of PostalAddress.
const TagPostalAddress = "postal_address"

// PostalAddress is a postal delivery address.
type PostalAddress struct {
	Name     string `json:"name" validate:"required,max=255"`
	Line1    string `json:"line1" validate:"required,max=255"`
	Line2    string `json:"line2,omitempty" validate:"max=255"`
	City     string `json:"city" validate:"required,max=100"`
	Postcode string `json:"postcode" validate:"required,max=20"`
	Country  string `json:"country" validate:"required,len=2"`
}

// Lines renders the address for labels and invoices.
func (a *PostalAddress) Lines() []string {
	lines := []string{a.Name, a.Line1}
	if a.Line2 != "" {
		lines = append(lines, a.Line2)
	}
	return append(lines, a.City+" "+a.Postcode, strings.ToUpper(a.Country))
}
