package handler

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/superblog/internal/middleware"
	"github.com/hitoshi/superblog/internal/security"
)

// ページ層はプレースホルダー。実際の描画はブログ本体が差し替える。
var pageTemplates = template.Must(template.New("pages").Parse(`
{{define "layout_head"}}<!doctype html>
<html lang="ja"><head><meta charset="utf-8"><title>{{.Title}}</title></head><body>{{end}}
{{define "layout_foot"}}</body></html>{{end}}

{{define "home"}}{{template "layout_head" .}}
<h1>superblog</h1>
{{if .UserName}}
<p>Signed in as {{.UserName}}</p>
<form method="post" action="/auth/sign-out">
<input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
<button type="submit">Sign out</button>
</form>
{{else}}
<p><a href="{{.SignInPath}}">Sign in</a></p>
{{end}}
{{template "layout_foot" .}}{{end}}

{{define "sign_in"}}{{template "layout_head" .}}
<h1>Sign in</h1>
{{if .Error}}<p role="alert">{{.Error}}</p>{{end}}
<ul>
{{range .Providers}}<li><a href="{{.URL}}">Continue with {{.Name}}</a></li>
{{end}}</ul>
{{template "layout_foot" .}}{{end}}
`))

// signInErrorMessages はコールバック失敗コードごとの表示文言。
var signInErrorMessages = map[string]string{
	"already_consumed":  "This sign-in link has already been used. Please retry sign-in.",
	"state_mismatch":    "The sign-in request could not be verified. Please retry sign-in.",
	"unknown_provider":  "That sign-in option is not available.",
	"provider_rejected": "Sign-in was cancelled at the provider.",
	"unavailable":       "The service is temporarily unavailable. Please try again.",
	"sign_in_failed":    "Sign-in failed. Please retry sign-in.",
}

type providerLink struct {
	Name string
	URL  string
}

type pageData struct {
	Title      string
	SignInPath string
	UserName   string
	CSRFToken  string
	Error      string
	Providers  []providerLink
}

// PageHandler はプレースホルダーのHTMLページを返す。
type PageHandler struct {
	service    AuthService
	providers  []string
	signInPath string
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(service AuthService, providers []string, signInPath string) *PageHandler {
	if signInPath == "" {
		signInPath = "/sign-in"
	}
	return &PageHandler{
		service:    service,
		providers:  providers,
		signInPath: signInPath,
	}
}

// Home はトップページを表示する。サインイン済みなら名前とサインアウトフォームを出す。
// GET /
func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	data := pageData{
		Title:      "superblog",
		SignInPath: h.signInPath,
		CSRFToken:  middleware.CSRFToken(r),
	}

	if res, err := h.service.ResolveSession(r.Context(), r); err == nil {
		if u, err := h.service.CurrentUser(r.Context(), res.UserID); err == nil {
			data.UserName = u.Name
			if res.NeedsCookies() {
				h.service.WriteCookies(w, res)
			}
		}
	}

	h.render(w, "home", data)
}

// SignIn はプロバイダー選択ページを表示する。
// GET /sign-in?returnTo=/path&error=code
func (h *PageHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	returnTo := security.SafeReturnPath(q.Get("returnTo"), "/")

	data := pageData{
		Title:      "Sign in",
		SignInPath: h.signInPath,
	}
	if code := q.Get("error"); code != "" {
		msg, ok := signInErrorMessages[code]
		if !ok {
			msg = signInErrorMessages["sign_in_failed"]
		}
		data.Error = msg
	}
	for _, name := range h.providers {
		v := url.Values{}
		v.Set("returnTo", returnTo)
		data.Providers = append(data.Providers, providerLink{
			Name: name,
			URL:  "/auth/" + url.PathEscape(name) + "/sign-in?" + v.Encode(),
		})
	}

	h.render(w, "sign_in", data)
}

func (h *PageHandler) render(w http.ResponseWriter, name string, data pageData) {
	var buf bytes.Buffer
	if err := pageTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("failed to render page",
			slog.String("page", name),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}
