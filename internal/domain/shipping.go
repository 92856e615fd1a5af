package domain

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	phoneRegex = regexp.MustCompile(`^\+?[0-9][0-9 \-]{5,18}[0-9]$`)
)

const (
	maxNameLength    = 100
	maxAddressLength = 250
)

type ShippingInfo struct {
	CustomerName string `json:"customer_name"`
	Address      string `json:"address"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
}

// Normalize trims surrounding whitespace from every field.
func (s ShippingInfo) Normalize() ShippingInfo {
	return ShippingInfo{
		CustomerName: strings.TrimSpace(s.CustomerName),
		Address:      strings.TrimSpace(s.Address),
		Phone:        strings.TrimSpace(s.Phone),
		Email:        strings.TrimSpace(s.Email),
	}
}

// Validate returns field name -> message for every malformed field, nil when the info is usable.
func (s ShippingInfo) Validate() map[string]string {
	fields := make(map[string]string)

	switch {
	case s.CustomerName == "":
		fields["customer_name"] = "customer name is required"
	case utf8.RuneCountInString(s.CustomerName) > maxNameLength:
		fields["customer_name"] = "customer name is too long"
	}

	switch {
	case s.Address == "":
		fields["address"] = "address is required"
	case utf8.RuneCountInString(s.Address) > maxAddressLength:
		fields["address"] = "address is too long"
	}

	switch {
	case s.Phone == "":
		fields["phone"] = "phone is required"
	case !phoneRegex.MatchString(s.Phone):
		fields["phone"] = "phone has invalid format"
	}

	switch {
	case s.Email == "":
		fields["email"] = "email is required"
	case !emailRegex.MatchString(s.Email):
		fields["email"] = "email has invalid format"
	}

	if len(fields) == 0 {
		return nil
	}
	return fields
}
