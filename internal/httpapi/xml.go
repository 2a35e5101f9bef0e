package httpapi

import (
	"encoding/xml"
	"io"
	"net/http"
)

const maxBodyBytes = 64 << 10

// Form payloads. The front end posts text/xml documents rooted at <form>.

type loginForm struct {
	XMLName  xml.Name `xml:"form"`
	Username string   `xml:"username"`
	Password string   `xml:"password"`
}

type newUserForm struct {
	XMLName      xml.Name `xml:"form"`
	FirstName    string   `xml:"first_name"`
	LastName     string   `xml:"last_name"`
	Street       string   `xml:"street"`
	City         string   `xml:"city"`
	CountryState string   `xml:"country_state"`
	Country      string   `xml:"country"`
	Username     string   `xml:"username"`
	Password     string   `xml:"password"`
}

type newAccountForm struct {
	XMLName     xml.Name `xml:"form"`
	AccountType string   `xml:"account_type"`
}

type updateAccountForm struct {
	XMLName         xml.Name `xml:"form"`
	Account         string   `xml:"account"`
	Action          string   `xml:"action"`
	Change          string   `xml:"change"`
	TransferAccount string   `xml:"transferAccount"`
}

// Response documents.

type xmlField struct {
	Name  string `xml:"name"`
	Error string `xml:"error"`
}

type xmlErrorSet struct {
	XMLName xml.Name   `xml:"errorSet"`
	Fields  []xmlField `xml:"field"`
}

type xmlResult struct {
	XMLName xml.Name `xml:"result"`
	Value   string   `xml:",chardata"`
}

type xmlUser struct {
	XMLName      xml.Name `xml:"user"`
	UserID       string   `xml:"user_id"`
	FirstName    string   `xml:"first_name"`
	LastName     string   `xml:"last_name"`
	Street       string   `xml:"street"`
	City         string   `xml:"city"`
	CountryState string   `xml:"country_state"`
	Country      string   `xml:"country"`
}

type xmlAccount struct {
	AccountID int64  `xml:"account_id"`
	Type      string `xml:"account_type,omitempty"`
	Balance   string `xml:"balance"`
}

type xmlAccounts struct {
	XMLName  xml.Name     `xml:"accounts"`
	Accounts []xmlAccount `xml:"account"`
}

type xmlAccountDoc struct {
	XMLName xml.Name `xml:"account"`
	xmlAccount
}

type xmlTypes struct {
	XMLName xml.Name `xml:"types"`
	Types   []string `xml:"type"`
}

// xmlBalances reports post-commit balances from an account update.
type xmlBalances struct {
	XMLName  xml.Name     `xml:"result"`
	Accounts []xmlAccount `xml:"account"`
}

func decodeXML(r *http.Request, dst any) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	return xml.Unmarshal(body, dst)
}

func writeXML(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(code)
	_ = xml.NewEncoder(w).Encode(v)
}

func writeErrorSet(w http.ResponseWriter, code int, fields ...xmlField) {
	writeXML(w, code, xmlErrorSet{Fields: fields})
}
