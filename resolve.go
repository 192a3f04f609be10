package proxyenv

// Resolve returns the effective proxy URL for a request to targetURL under
// directive d, or "" when the request must go direct.
//
// Priority order, first match wins:
//  1. A disabled directive yields "", whatever the environment says.
//  2. A URL directive yields its URL verbatim.
//  3. A structured directive yields ToURL of its config.
//  4. An absent directive defers to FromEnvironment.
//
// Only the environment path honours NO_PROXY: an explicit directive always
// wins over the bypass list. For the same reason targetURL is only parsed
// on the environment path.
func Resolve(env Env, targetURL string, d Directive) (string, error) {
	switch d.kind {
	case KindDisabled:
		return "", nil
	case KindURL:
		return d.url, nil
	case KindStructured:
		return ToURL(d.config), nil
	default:
		return FromEnvironment(env, targetURL)
	}
}
