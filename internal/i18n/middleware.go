package i18n

import (
	"net/http"

	"golang.org/x/text/language"
)

// LangCookie remembers a language picked with ?lang=.
const LangCookie = "lang"

// Middleware picks the request language from ?lang=, the lang cookie, then
// Accept-Language, falling back to the default language.
func Middleware(secureCookies bool) func(http.Handler) http.Handler {
	// The first tag is what the matcher returns when nothing matches.
	tags := []language.Tag{language.Make(defaultLang)}
	for _, t := range Supported() {
		if t != tags[0] {
			tags = append(tags, t)
		}
	}
	matcher := language.NewMatcher(tags)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var prefs []string
			if q := r.URL.Query().Get("lang"); q != "" {
				prefs = append(prefs, q)
				http.SetCookie(w, &http.Cookie{
					Name:     LangCookie,
					Value:    q,
					Path:     "/",
					MaxAge:   365 * 24 * 3600,
					HttpOnly: true,
					Secure:   secureCookies,
					SameSite: http.SameSiteLaxMode,
				})
			}
			if c, err := r.Cookie(LangCookie); err == nil && c.Value != "" {
				prefs = append(prefs, c.Value)
			}
			prefs = append(prefs, r.Header.Get("Accept-Language"))

			tag, _ := language.MatchStrings(matcher, prefs...)
			base, _ := tag.Base()
			ctx := WithLanguage(r.Context(), base.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
