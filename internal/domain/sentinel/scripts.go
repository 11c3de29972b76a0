package sentinel

// Pinned module-resolution map. Every generated document resolves React from
// these URLs regardless of what the generator asked for.
const importMap = `<script type="importmap">
{
  "imports": {
    "react": "https://esm.sh/react@18.2.0?bundle",
    "react-dom": "https://esm.sh/react-dom@18.2.0?bundle",
    "react-dom/client": "https://esm.sh/react-dom@18.2.0/client?bundle",
    "react/jsx-runtime": "https://esm.sh/react@18.2.0/jsx-runtime?bundle"
  }
}
</script>`

const tailwindLoader = `<script src="https://cdn.tailwindcss.com"></script>`

const resetStyle = `<style>
  body { background: transparent !important; margin: 0; padding: 0; overflow-x: hidden; color: white; }
  ::-webkit-scrollbar { width: 4px; }
  ::-webkit-scrollbar-thumb { background: rgba(34,211,238,0.2); border-radius: 10px; }
</style>`

const (
	prologueOpen  = "<!--nexus:prologue-->"
	prologueClose = "<!--/nexus:prologue-->"

	inspectorOpen  = "<!--nexus:inspector-->"
	inspectorClose = "<!--/nexus:inspector-->"

	monitorTag = `<script data-nexus="health-monitor">`
)

// prologue is injected right after the head tag.
const prologue = prologueOpen + `
<meta charset="UTF-8">
` + importMap + `
` + tailwindLoader + `
` + resetStyle + `
` + prologueClose

// healthMonitor reports load, a 1s heartbeat and uncaught errors to the host.
// The render epoch is read from the tag's data-epoch attribute (see Stamp).
const healthMonitor = monitorTag + `
(function () {
  var script = document.currentScript;
  var epoch = (script && script.getAttribute('data-epoch')) || null;
  var ping = function (status, err) {
    try {
      window.parent.postMessage({ type: 'NEXUS_HEALTH_CHECK', status: status, error: err || null, epoch: epoch }, '*');
    } catch (e) {}
  };
  window.onerror = function (message) { ping('ERROR', String(message)); };
  window.addEventListener('load', function () { ping('OK'); });
  setInterval(function () { ping('OK'); }, 1000);
})();
</script>`

// inspector highlights hovered elements and reports clicks as ELEMENT_SELECTED.
const inspector = inspectorOpen + `
<style id="nexus-inspect-styles">
  .nexus-highlight {
    outline: 2px solid #06b6d4 !important;
    background-color: rgba(6,182,212,0.1) !important;
    cursor: crosshair !important;
    transition: all 0.2s ease;
  }
  html.inspect-mode-active * { pointer-events: auto !important; }
</style>
<script data-nexus="inspector">
(function () {
  var doc = document;
  var selectorOf = function (el) {
    if (el.id) return '#' + el.id;
    if (el === doc.body) return 'body';
    if (!el.parentElement) return el.tagName.toLowerCase();
    var idx = 1;
    var sib = el.previousElementSibling;
    while (sib) {
      if (sib.tagName === el.tagName) idx++;
      sib = sib.previousElementSibling;
    }
    return selectorOf(el.parentElement) + ' > ' + el.tagName.toLowerCase() + ':nth-of-type(' + idx + ')';
  };
  var ignored = function (el) { return !el || el === doc.body || el === doc.documentElement; };
  doc.addEventListener('mouseover', function (e) {
    if (ignored(e.target)) return;
    e.stopPropagation();
    e.target.classList.add('nexus-highlight');
  }, true);
  doc.addEventListener('mouseout', function (e) {
    if (ignored(e.target)) return;
    e.target.classList.remove('nexus-highlight');
  }, true);
  doc.addEventListener('click', function (e) {
    if (ignored(e.target)) return;
    e.preventDefault();
    e.stopPropagation();
    var el = e.target;
    el.classList.remove('nexus-highlight');
    window.parent.postMessage({
      type: 'ELEMENT_SELECTED',
      payload: {
        tagName: el.tagName,
        html: el.outerHTML,
        selector: selectorOf(el),
        text: (el.innerText || '').substring(0, 50)
      }
    }, '*');
  }, true);
  doc.documentElement.classList.add('inspect-mode-active');
})();
</script>
` + inspectorClose
