// Package monitor – script.go carries the injected monitor source.
//
// The script is a plain IIFE with no dependencies and no template literals,
// safe to ship through Runtime.evaluate as a single expression. It must be
// idempotent: evaluating it in a realm that already carries a loaded runtime
// changes nothing.
package monitor

const script = `
(function() {
  'use strict';

  // Injection guard. The loaded flag is separate from the control object so
  // stop() can clear it (allowing a later re-injection) while getStats()
  // keeps working on the idle runtime.
  if (window.__retrywatchLoaded) { return 'already-loaded'; }
  window.__retrywatchLoaded = true;

  var DOC_CACHE_TTL_MS = 5000;
  var DEBOUNCE_MS = 500;
  var MAX_ANCESTOR_DEPTH = 5;
  var MAX_COMMAND_DEPTH = 6;
  var MAX_LABEL_LENGTH = 40;
  var RETRY_LABEL = 'Retry';
  var ACCEPT_LABEL = 'Accept All';

  var ERROR_MARKERS = [
    'error', 'failed', 'failure', 'terminated', 'stopped', 'exception',
    'something went wrong', 'try again'
  ];

  var state = {
    config: {
      pollIntervalMs: 3000,
      cooldownMs: 2000,
      acceptAll: false,
      bannedCommands: []
    },
    stats: { clicks: 0, blocked: 0, acceptAllClicks: 0 },
    running: false,
    pollTimer: null,
    debounceTimer: null,
    scanning: false,
    lastClickAt: 0,
    observers: [],        // [{root, observer}], at most one per root
    docCache: null,       // cached root list
    docCacheAt: 0
  };

  // ── Document enumeration ──
  // Walks the realm's document plus every reachable sub-document: same-origin
  // iframe documents and open shadow roots, recursively, with a visited set
  // guarding against cycles. Enumeration is the most expensive scan step, so
  // the result is cached for a short TTL.

  function collectRoots(root, visited, out) {
    if (!root || visited.indexOf(root) !== -1) { return; }
    visited.push(root);
    out.push(root);

    var all;
    try { all = root.querySelectorAll('*'); } catch (e) { return; }
    for (var i = 0; i < all.length; i++) {
      var el = all[i];
      if (el.shadowRoot) {
        collectRoots(el.shadowRoot, visited, out);
      }
      var tag = el.tagName;
      if (tag === 'IFRAME' || tag === 'FRAME' || tag === 'WEBVIEW' || tag === 'OBJECT') {
        var doc = null;
        try { doc = el.contentDocument; } catch (e) { doc = null; }
        if (doc) { collectRoots(doc, visited, out); }
      }
    }
  }

  function getRoots() {
    var now = Date.now();
    if (state.docCache && (now - state.docCacheAt) < DOC_CACHE_TTL_MS) {
      return state.docCache;
    }
    var out = [];
    collectRoots(document, [], out);
    state.docCache = out;
    state.docCacheAt = now;
    return out;
  }

  // ── Element helpers ──

  function ownText(el) {
    var t = el.textContent;
    return t ? t.replace(/\s+/g, ' ').trim() : '';
  }

  function isVisible(el) {
    if (!el || !el.getClientRects || el.getClientRects().length === 0) { return false; }
    var doc = el.ownerDocument;
    var win = doc ? doc.defaultView : null;
    if (win) {
      var style = win.getComputedStyle(el);
      if (style && (style.display === 'none' || style.visibility === 'hidden')) {
        return false;
      }
    }
    return true;
  }

  function dispatchClick(el) {
    // Frameworks differ in which events they listen for, so fire the whole
    // pointer/mouse sequence and fall back to the native click.
    var doc = el.ownerDocument || document;
    var win = doc.defaultView || window;
    var types = ['pointerdown', 'mousedown', 'pointerup', 'mouseup', 'click'];
    for (var i = 0; i < types.length; i++) {
      var ev;
      try {
        if (types[i].indexOf('pointer') === 0 && win.PointerEvent) {
          ev = new win.PointerEvent(types[i], { bubbles: true, cancelable: true, view: win });
        } else {
          ev = new win.MouseEvent(types[i], { bubbles: true, cancelable: true, view: win });
        }
        el.dispatchEvent(ev);
      } catch (e) { /* keep going; the native click below still fires */ }
    }
    if (typeof el.click === 'function') {
      try { el.click(); } catch (e) {}
    }
  }

  // ── Retry detection ──

  function inErrorContext(el) {
    var node = el;
    for (var depth = 0; node && depth < MAX_ANCESTOR_DEPTH; depth++) {
      node = node.parentElement || (node.parentNode && node.parentNode.host) || null;
      if (!node) { break; }
      var cls = (typeof node.className === 'string' ? node.className : '').toLowerCase();
      if (cls.indexOf('error') !== -1 || cls.indexOf('danger') !== -1 || cls.indexOf('failure') !== -1) {
        return true;
      }
      var text = (node.textContent || '').slice(0, 2000).toLowerCase();
      for (var i = 0; i < ERROR_MARKERS.length; i++) {
        if (text.indexOf(ERROR_MARKERS[i]) !== -1) { return true; }
      }
    }
    return false;
  }

  // nearbyCommandText finds the closest command/terminal output container and
  // returns its text, or '' when there is none.
  function nearbyCommandText(el) {
    var selector = 'pre, code, .terminal, .command, .xterm, [class*="terminal"], [class*="command"], [class*="console"]';
    var node = el;
    for (var depth = 0; node && depth < MAX_COMMAND_DEPTH; depth++) {
      if (node.querySelector) {
        var found = null;
        try { found = node.querySelector(selector); } catch (e) { found = null; }
        if (found) { return (found.textContent || '').slice(0, 10000); }
      }
      node = node.parentElement || (node.parentNode && node.parentNode.host) || null;
    }
    return '';
  }

  function matchBanned(text) {
    if (!text) { return ''; }
    var lower = text.toLowerCase();
    for (var i = 0; i < state.config.bannedCommands.length; i++) {
      var banned = String(state.config.bannedCommands[i]).toLowerCase();
      if (banned && lower.indexOf(banned) !== -1) { return state.config.bannedCommands[i]; }
    }
    return '';
  }

  function scanRetry(root) {
    var buttons;
    try { buttons = root.querySelectorAll('button, [role="button"], a'); } catch (e) { return; }

    for (var i = 0; i < buttons.length; i++) {
      var btn = buttons[i];
      if (ownText(btn) !== RETRY_LABEL || !isVisible(btn)) { continue; }
      if (!inErrorContext(btn)) { continue; }

      // Danger gate must run synchronously before any click.
      var command = nearbyCommandText(btn);
      var banned = matchBanned(command);
      if (banned) {
        state.stats.blocked++;
        console.warn('[retrywatch] retry blocked, banned command present:', banned);
        continue;
      }

      var now = Date.now();
      if (now - state.lastClickAt < state.config.cooldownMs) { continue; }
      state.lastClickAt = now;

      dispatchClick(btn);
      state.stats.clicks++;
      console.log('[retrywatch] clicked retry button');
    }
  }

  // ── Accept-all detection ──
  // Only when enabled. Matches short, exactly-labelled, visible nodes and
  // resolves to the nearest interactive ancestor; at most one click per
  // document per pass so a burst of dialogs drains one scan at a time.

  function interactiveAncestor(el) {
    var node = el;
    for (var depth = 0; node && depth < MAX_ANCESTOR_DEPTH; depth++) {
      var tag = node.tagName;
      if (tag === 'BUTTON' || tag === 'A' ||
          (node.getAttribute && node.getAttribute('role') === 'button') ||
          (typeof node.onclick === 'function')) {
        return node;
      }
      node = node.parentElement || (node.parentNode && node.parentNode.host) || null;
    }
    return el;
  }

  function scanAcceptAll(root) {
    var all;
    try { all = root.querySelectorAll('*'); } catch (e) { return; }

    for (var i = 0; i < all.length; i++) {
      var el = all[i];
      var raw = el.textContent || '';
      // A container wrapping the real control carries far more text than the
      // label itself; length-guard before the exact match.
      if (raw.length > MAX_LABEL_LENGTH) { continue; }
      if (ownText(el) !== ACCEPT_LABEL || !isVisible(el)) { continue; }

      dispatchClick(interactiveAncestor(el));
      state.stats.acceptAllClicks++;
      console.log('[retrywatch] clicked accept-all button');
      return; // one per document per pass
    }
  }

  // ── Scan loop ──

  function scan() {
    if (!state.running || state.scanning) { return; }
    state.scanning = true;
    try {
      var roots = getRoots();
      for (var i = 0; i < roots.length; i++) {
        scanRetry(roots[i]);
        if (state.config.acceptAll) { scanAcceptAll(roots[i]); }
      }
      ensureObservers(roots);
    } catch (e) {
      console.error('[retrywatch] scan failed:', e);
    } finally {
      state.scanning = false;
    }
  }

  function scheduleScan() {
    // Coalesce mutation bursts into one scan after a quiet period.
    if (state.debounceTimer) { clearTimeout(state.debounceTimer); }
    state.debounceTimer = setTimeout(function() {
      state.debounceTimer = null;
      scan();
    }, DEBOUNCE_MS);
  }

  function ensureObservers(roots) {
    if (typeof MutationObserver === 'undefined') { return; }
    for (var i = 0; i < roots.length; i++) {
      var root = roots[i];
      var have = false;
      for (var j = 0; j < state.observers.length; j++) {
        if (state.observers[j].root === root) { have = true; break; }
      }
      if (have) { continue; }
      var obs = new MutationObserver(scheduleScan);
      try {
        obs.observe(root, { childList: true, subtree: true });
        state.observers.push({ root: root, observer: obs });
      } catch (e) { /* detached root; next enumeration drops it */ }
    }
  }

  // ── Control surface ──

  function start(cfg) {
    if (cfg) {
      if (typeof cfg.pollIntervalMs === 'number' && cfg.pollIntervalMs > 0) {
        state.config.pollIntervalMs = cfg.pollIntervalMs;
      }
      if (typeof cfg.cooldownMs === 'number' && cfg.cooldownMs >= 0) {
        state.config.cooldownMs = cfg.cooldownMs;
      }
      if (typeof cfg.acceptAll === 'boolean') {
        state.config.acceptAll = cfg.acceptAll;
      }
      if (cfg.bannedCommands && cfg.bannedCommands.length) {
        state.config.bannedCommands = cfg.bannedCommands;
      }
    }

    state.running = true;

    if (state.pollTimer) { clearInterval(state.pollTimer); }
    state.pollTimer = setInterval(scan, state.config.pollIntervalMs);

    scan();
    return 'started';
  }

  function stop() {
    state.running = false;
    if (state.pollTimer) { clearInterval(state.pollTimer); state.pollTimer = null; }
    if (state.debounceTimer) { clearTimeout(state.debounceTimer); state.debounceTimer = null; }
    for (var i = 0; i < state.observers.length; i++) {
      try { state.observers[i].observer.disconnect(); } catch (e) {}
    }
    state.observers = [];
    state.docCache = null;
    state.docCacheAt = 0;
    window.__retrywatchLoaded = false;
    return 'stopped';
  }

  function getStats() {
    return {
      clicks: state.stats.clicks,
      blocked: state.stats.blocked,
      acceptAllClicks: state.stats.acceptAllClicks
    };
  }

  function resetStats() {
    state.stats.clicks = 0;
    state.stats.blocked = 0;
    state.stats.acceptAllClicks = 0;
    return 'reset';
  }

  function setAcceptAll(enabled) {
    state.config.acceptAll = !!enabled;
    return state.config.acceptAll;
  }

  function setPollInterval(ms) {
    if (typeof ms !== 'number' || ms <= 0) { return state.config.pollIntervalMs; }
    state.config.pollIntervalMs = ms;
    if (state.running) {
      if (state.pollTimer) { clearInterval(state.pollTimer); }
      state.pollTimer = setInterval(scan, state.config.pollIntervalMs);
    }
    return state.config.pollIntervalMs;
  }

  window.__retrywatch = {
    start: start,
    stop: stop,
    getStats: getStats,
    resetStats: resetStats,
    setAcceptAll: setAcceptAll,
    setPollInterval: setPollInterval
  };

  return 'loaded';
})()
`
