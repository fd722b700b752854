package targeting

// PreludeLibrary is the library name under which prelude is
// provided.
const PreludeLibrary = "nimbus:prelude"

// prelude holds the helpers that translated expressions call.
const prelude = `
function __isNil(x) {
  return x === null || x === undefined;
}

function __get(o, k) {
  if (__isNil(o) || __isNil(k)) return undefined;
  if (typeof o !== "object" && typeof o !== "string") return undefined;
  if (!Object.prototype.hasOwnProperty.call(o, k)) return undefined;
  return o[k];
}

function __prop(o, k) {
  if (Array.isArray(o)) o = o[0];
  return __get(o, k);
}

function __eq(a, b) {
  if (a === b) return true;
  if (__isNil(a) || __isNil(b)) return __isNil(a) && __isNil(b);
  if (typeof a !== "object" || typeof b !== "object") return false;
  var aa = Array.isArray(a), ba = Array.isArray(b);
  if (aa !== ba) return false;
  var i;
  if (aa) {
    if (a.length !== b.length) return false;
    for (i = 0; i < a.length; i++) {
      if (!__eq(a[i], b[i])) return false;
    }
    return true;
  }
  var ka = Object.keys(a), kb = Object.keys(b);
  if (ka.length !== kb.length) return false;
  for (i = 0; i < ka.length; i++) {
    if (!Object.prototype.hasOwnProperty.call(b, ka[i])) return false;
    if (!__eq(a[ka[i]], b[ka[i]])) return false;
  }
  return true;
}

function __in(x, xs) {
  if (typeof xs === "string") {
    return typeof x === "string" && xs.indexOf(x) >= 0;
  }
  if (Array.isArray(xs)) {
    for (var i = 0; i < xs.length; i++) {
      if (__eq(x, xs[i])) return true;
    }
    return false;
  }
  if (!__isNil(xs) && typeof xs === "object") {
    return typeof x === "string" && Object.prototype.hasOwnProperty.call(xs, x);
  }
  return false;
}

function __filter(xs, f) {
  if (__isNil(xs)) return undefined;
  if (!Array.isArray(xs)) xs = [xs];
  var acc = [];
  for (var i = 0; i < xs.length; i++) {
    if (f(xs[i])) acc.push(xs[i]);
  }
  return acc;
}
`
