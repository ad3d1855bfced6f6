package shield

import "net/url"

// Request carries the caller input of one action invocation. Transport
// adapters map their own wire format onto it; the engine never reads an
// *http.Request directly.
type Request struct {
	Query url.Values
	Form  url.Values
}

func NewRequest() *Request {
	return &Request{
		Query: url.Values{},
		Form:  url.Values{},
	}
}

// Response is the action's instruction to the caller. It never performs
// I/O itself; an empty RedirectURL means "no redirect, carry on".
type Response struct {
	RedirectURL string `json:"redirect_url,omitempty"`
}

func Redirect(url string) *Response {
	return &Response{RedirectURL: url}
}

func DefaultResponse() *Response {
	return &Response{}
}

func (r *Response) IsRedirect() bool {
	return r.RedirectURL != ""
}
