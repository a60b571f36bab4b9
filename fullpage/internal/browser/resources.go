// CLAUDE:SUMMARY Blocks configured resource types on rod tabs; images and stylesheets are never blocked since captures need them.
package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// applyResourceBlocking fails requests whose type is listed in types.
// Images and stylesheets are ignored: blocking them would corrupt captures.
func applyResourceBlocking(page *rod.Page, types []string) error {
	blockSet := make(map[string]bool, len(types))
	for _, t := range types {
		t = strings.ToLower(t)
		if t == "images" || t == "stylesheets" {
			continue
		}
		blockSet[t] = true
	}
	if len(blockSet) == 0 {
		return nil
	}

	router := page.HijackRequests()
	router.MustAdd("*", func(ctx *rod.Hijack) {
		if shouldBlock(blockSet, string(ctx.Request.Type())) {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()

	return nil
}

func shouldBlock(blockSet map[string]bool, resType string) bool {
	lower := strings.ToLower(resType)
	switch lower {
	case "font":
		return blockSet["fonts"]
	case "media":
		return blockSet["media"]
	case "websocket":
		return blockSet["websockets"]
	}
	return blockSet[lower]
}
