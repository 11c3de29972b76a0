package sandbox

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
)

// dom exposes a read-mostly view of the parsed page to scripts. Lookups
// resolve against the real markup; mutations are accepted and discarded.
type dom struct {
	vm  *goja.Runtime
	doc *goquery.Document
}

func newDOM(vm *goja.Runtime, doc *goquery.Document) *dom {
	if doc == nil {
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader("<html><head></head><body></body></html>"))
	}
	return &dom{vm: vm, doc: doc}
}

func (d *dom) noop(goja.FunctionCall) goja.Value { return goja.Undefined() }

func (d *dom) document() *goja.Object {
	o := d.vm.NewObject()
	root := d.doc.Selection

	_ = o.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).String()
		return d.first(root.Find("[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
			v, _ := s.Attr("id")
			return v == id
		}))
	})
	d.installQueries(o, root)
	_ = o.Set("getElementsByTagName", func(call goja.FunctionCall) goja.Value {
		return d.list(root.Find(call.Argument(0).String()))
	})
	_ = o.Set("getElementsByClassName", func(call goja.FunctionCall) goja.Value {
		return d.list(root.Find("." + strings.TrimSpace(call.Argument(0).String())))
	})
	_ = o.Set("createElement", func(call goja.FunctionCall) goja.Value {
		return d.detached(call.Argument(0).String())
	})
	_ = o.Set("createTextNode", func(call goja.FunctionCall) goja.Value {
		return d.detached("#text")
	})
	_ = o.Set("addEventListener", d.noop)
	_ = o.Set("removeEventListener", d.noop)
	_ = o.Set("readyState", "complete")
	_ = o.Set("title", strings.TrimSpace(root.Find("title").First().Text()))
	_ = o.Set("body", d.first(root.Find("body")))
	_ = o.Set("head", d.first(root.Find("head")))
	_ = o.Set("documentElement", d.first(root.Find("html")))
	return o
}

// installQueries adds querySelector and querySelectorAll scoped to s.
// Selectors goquery cannot compile match nothing.
func (d *dom) installQueries(o *goja.Object, s *goquery.Selection) {
	_ = o.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		return d.first(d.find(s, call.Argument(0).String()))
	})
	_ = o.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		return d.list(d.find(s, call.Argument(0).String()))
	})
}

func (d *dom) find(s *goquery.Selection, selector string) (found *goquery.Selection) {
	defer func() {
		if recover() != nil {
			found = s.Slice(0, 0)
		}
	}()
	return s.Find(selector)
}

func (d *dom) first(s *goquery.Selection) goja.Value {
	if s.Length() == 0 {
		return goja.Null()
	}
	return d.element(s.First())
}

func (d *dom) list(s *goquery.Selection) goja.Value {
	out := make([]any, 0, s.Length())
	s.Each(func(_ int, el *goquery.Selection) {
		out = append(out, d.element(el))
	})
	return d.vm.ToValue(out)
}

func (d *dom) element(s *goquery.Selection) *goja.Object {
	o := d.base(strings.ToUpper(goquery.NodeName(s)))
	inner, _ := s.Html()

	_ = o.Set("id", s.AttrOr("id", ""))
	_ = o.Set("className", s.AttrOr("class", ""))
	_ = o.Set("textContent", s.Text())
	_ = o.Set("innerText", s.Text())
	_ = o.Set("innerHTML", inner)
	_ = o.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		if v, ok := s.Attr(call.Argument(0).String()); ok {
			return d.vm.ToValue(v)
		}
		return goja.Null()
	})
	_ = o.Set("hasAttribute", func(call goja.FunctionCall) goja.Value {
		_, ok := s.Attr(call.Argument(0).String())
		return d.vm.ToValue(ok)
	})
	d.installQueries(o, s)
	return o
}

func (d *dom) detached(tag string) goja.Value {
	o := d.base(strings.ToUpper(tag))
	_ = o.Set("id", "")
	_ = o.Set("className", "")
	_ = o.Set("textContent", "")
	_ = o.Set("innerHTML", "")
	_ = o.Set("getAttribute", func(goja.FunctionCall) goja.Value { return goja.Null() })
	_ = o.Set("hasAttribute", func(goja.FunctionCall) goja.Value { return d.vm.ToValue(false) })
	_ = o.Set("querySelector", func(goja.FunctionCall) goja.Value { return goja.Null() })
	_ = o.Set("querySelectorAll", func(goja.FunctionCall) goja.Value { return d.vm.ToValue([]any{}) })
	return o
}

// base builds the members every element stub shares.
func (d *dom) base(tag string) *goja.Object {
	vm := d.vm
	o := vm.NewObject()
	passThrough := func(call goja.FunctionCall) goja.Value { return call.Argument(0) }

	classList := vm.NewObject()
	_ = classList.Set("add", d.noop)
	_ = classList.Set("remove", d.noop)
	_ = classList.Set("toggle", func(goja.FunctionCall) goja.Value { return vm.ToValue(false) })
	_ = classList.Set("contains", func(goja.FunctionCall) goja.Value { return vm.ToValue(false) })

	_ = o.Set("tagName", tag)
	_ = o.Set("nodeName", tag)
	_ = o.Set("style", vm.NewObject())
	_ = o.Set("dataset", vm.NewObject())
	_ = o.Set("classList", classList)
	_ = o.Set("children", vm.NewArray())
	_ = o.Set("setAttribute", d.noop)
	_ = o.Set("removeAttribute", d.noop)
	_ = o.Set("addEventListener", d.noop)
	_ = o.Set("removeEventListener", d.noop)
	_ = o.Set("appendChild", passThrough)
	_ = o.Set("removeChild", passThrough)
	_ = o.Set("insertBefore", passThrough)
	_ = o.Set("append", d.noop)
	_ = o.Set("remove", d.noop)
	_ = o.Set("focus", d.noop)
	_ = o.Set("blur", d.noop)
	_ = o.Set("click", d.noop)
	_ = o.Set("getBoundingClientRect", func(goja.FunctionCall) goja.Value {
		r := vm.NewObject()
		for _, k := range []string{"top", "left", "right", "bottom", "width", "height", "x", "y"} {
			_ = r.Set(k, 0)
		}
		return r
	})
	_ = o.Set("getContext", func(goja.FunctionCall) goja.Value { return goja.Null() })
	return o
}
