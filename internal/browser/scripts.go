package browser

import (
	"encoding/json"
	"fmt"
)

// LikeButtonSelector matches the like icon of a post opened in the page.
const LikeButtonSelector = `div > section > div > span > div > div > div svg[aria-label="Like"]`

// NavigateScript moves the single-page app to path without a reload: push a
// history entry and let the router pick it up from a popstate event.
func NavigateScript(path string) string {
	return fmt.Sprintf(`(() => {
  window.history.pushState({}, "", %s);
  window.dispatchEvent(new PopStateEvent("popstate"));
})()`, jsString(path))
}

// ClickLikeScript clicks the like control if it is rendered. It evaluates to
// true when a control was found.
func ClickLikeScript() string {
	return fmt.Sprintf(`(() => {
  const likeButton = document.querySelector(%s);
  if (likeButton && likeButton.parentElement) {
    likeButton.parentElement.click();
    return true;
  }
  return false;
})()`, jsString(LikeButtonSelector))
}

// jsString renders s as a JavaScript string literal. JSON string syntax is a
// subset of it; U+2028 and U+2029 are escaped by encoding/json.
func jsString(s string) string {
	raw, err := json.Marshal(s)
	if err != nil {
		return `""`
	}

	return string(raw)
}
