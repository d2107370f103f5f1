// CLAUDE:SUMMARY Page-side JavaScript for geometry probing, scrolling, overlay layout/hide/restore, page info and area selection.
package capture

// Every script is a function expression evaluated by the Scripter and
// returns a JSON string. Elements are addressed by XPath so that nothing has
// to be remembered on the page between evaluations.

const jsXPath = `
	function xpath(el) {
		const parts = [];
		let node = el;
		while (node && node.nodeType === 1) {
			let idx = 0;
			let sib = node.previousElementSibling;
			while (sib) {
				if (sib.tagName === node.tagName) idx++;
				sib = sib.previousElementSibling;
			}
			const t = node.tagName.toLowerCase();
			parts.unshift(idx > 0 ? t + '[' + (idx+1) + ']' : t);
			node = node.parentElement;
		}
		return '/' + parts.join('/');
	}
	function resolve(path) {
		if (!path) return null;
		try {
			return document.evaluate(path, document, null,
				XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
		} catch (e) {
			return null;
		}
	}
`

const probeScript = `() => {` + jsXPath + `
	const vh = window.innerHeight;
	const offset = () => window.pageYOffset || document.documentElement.scrollTop || 0;
	const docHeight = () => Math.max(
		document.documentElement.scrollHeight,
		document.body ? document.body.scrollHeight : 0);
	const base = {
		hasContainer: false,
		containerPath: '',
		viewportWidth: window.innerWidth,
		windowHeight: vh,
		dpr: window.devicePixelRatio || 1
	};

	const original = offset();
	window.scrollTo(0, 100);
	const canWindowScroll = offset() > 0;
	window.scrollTo(0, original);

	if (!canWindowScroll) {
		for (const el of document.querySelectorAll('*')) {
			const style = window.getComputedStyle(el);
			if ((style.overflowY === 'scroll' || style.overflowY === 'auto') &&
				el.scrollHeight > el.clientHeight + 50 &&
				el.clientHeight > vh * 0.3) {
				return JSON.stringify(Object.assign(base, {
					hasContainer: true,
					containerPath: xpath(el),
					viewportHeight: el.clientHeight,
					totalHeight: el.scrollHeight
				}));
			}
		}
	}
	return JSON.stringify(Object.assign(base, {
		viewportHeight: vh,
		totalHeight: docHeight()
	}));
}`

const scrollScript = `(path, pos) => {` + jsXPath + `
	const el = resolve(path);
	if (el) {
		el.scrollTop = pos;
		return JSON.stringify(el.scrollTop);
	}
	window.scrollTo(0, pos);
	return JSON.stringify(window.pageYOffset || document.documentElement.scrollTop || 0);
}`

const layoutScript = `(structural, site) => {` + jsXPath + `
	const describe = (el) => {
		const r = el.getBoundingClientRect();
		return {
			path: xpath(el),
			tag: el.tagName.toLowerCase(),
			position: window.getComputedStyle(el).position,
			rect: { top: r.top, bottom: r.bottom, height: r.height, width: r.width },
			style: el.style.cssText
		};
	};
	const query = (selectors) => {
		const out = [];
		for (const sel of selectors || []) {
			try {
				document.querySelectorAll(sel).forEach((el) => out.push(describe(el)));
			} catch (e) {}
		}
		return out;
	};

	const positioned = [];
	document.querySelectorAll('*').forEach((el) => {
		const pos = window.getComputedStyle(el).position;
		if (pos === 'fixed' || pos === 'sticky') positioned.push(describe(el));
	});

	return JSON.stringify({
		viewportWidth: window.innerWidth,
		viewportHeight: window.innerHeight,
		hostname: window.location.hostname,
		positioned: positioned,
		structural: query(structural),
		site: query(site)
	});
}`

const hideScript = `(paths) => {` + jsXPath + `
	const hidden = [];
	for (const path of paths) {
		const el = resolve(path);
		if (!el) continue;
		hidden.push({ path: path, originalStyle: el.style.cssText });
		el.style.setProperty('visibility', 'hidden', 'important');
	}
	return JSON.stringify(hidden);
}`

const restoreScript = `(items) => {` + jsXPath + `
	let restored = 0;
	for (const item of items) {
		const el = resolve(item.path);
		if (!el) continue;
		el.style.cssText = item.originalStyle;
		restored++;
	}
	return JSON.stringify(restored);
}`

const pageInfoScript = `() => JSON.stringify({
	title: document.title || '',
	url: window.location.href
})`

// areaScript shows a selection overlay and resolves once the user has
// dragged a rectangle larger than 10x10 CSS pixels or pressed Escape.
const areaScript = `() => new Promise((resolve) => {
	const ids = ['__pagesaverOverlay', '__pagesaverSelection', '__pagesaverDimension', '__pagesaverHint'];
	ids.forEach((id) => { const el = document.getElementById(id); if (el) el.remove(); });

	const make = (id, css) => {
		const el = document.createElement('div');
		el.id = id;
		el.setAttribute('style', css.map((c) => c + ' !important').join('; '));
		document.documentElement.appendChild(el);
		return el;
	};
	const overlay = make(ids[0], [
		'position: fixed', 'top: 0', 'left: 0', 'width: 100vw', 'height: 100vh',
		'background-color: rgba(0, 0, 0, 0.5)', 'z-index: 2147483646',
		'cursor: crosshair', 'margin: 0', 'padding: 0', 'border: none', 'display: block'
	]);
	const box = make(ids[1], [
		'position: fixed', 'border: 2px dashed #fff', 'background: transparent',
		'z-index: 2147483647', 'pointer-events: none', 'display: none', 'box-sizing: border-box'
	]);
	const label = make(ids[2], [
		'position: fixed', 'z-index: 2147483647', 'background: #000', 'color: #fff',
		'font: 12px monospace', 'padding: 2px 6px', 'pointer-events: none', 'display: none'
	]);
	const hint = make(ids[3], [
		'position: fixed', 'top: 16px', 'left: 50%', 'transform: translateX(-50%)',
		'z-index: 2147483647', 'background: #000', 'color: #fff', 'font: 14px sans-serif',
		'padding: 6px 12px', 'pointer-events: none'
	]);
	hint.textContent = 'Click and drag to select an area. Press ESC to cancel.';

	let startX = 0, startY = 0, selecting = false;
	const rectFrom = (e) => ({
		left: Math.min(startX, e.clientX),
		top: Math.min(startY, e.clientY),
		width: Math.abs(e.clientX - startX),
		height: Math.abs(e.clientY - startY)
	});
	const cleanup = () => {
		[overlay, box, label, hint].forEach((el) => el.remove());
		document.removeEventListener('keydown', onKey, true);
		document.removeEventListener('mousemove', onMove, true);
		document.removeEventListener('mouseup', onUp, true);
	};
	const onKey = (e) => {
		if (e.key !== 'Escape') return;
		e.preventDefault();
		e.stopPropagation();
		cleanup();
		resolve(JSON.stringify({ cancelled: true }));
	};
	const onMove = (e) => {
		if (!selecting) return;
		e.preventDefault();
		const r = rectFrom(e);
		box.style.setProperty('left', r.left + 'px', 'important');
		box.style.setProperty('top', r.top + 'px', 'important');
		box.style.setProperty('width', r.width + 'px', 'important');
		box.style.setProperty('height', r.height + 'px', 'important');
		box.style.setProperty('box-shadow', '0 0 0 9999px rgba(0, 0, 0, 0.5)', 'important');
		label.textContent = r.width + ' x ' + r.height;
		label.style.setProperty('left', (r.left + r.width + 10) + 'px', 'important');
		label.style.setProperty('top', r.top + 'px', 'important');
		label.style.setProperty('display', 'block', 'important');
	};
	const onUp = (e) => {
		if (!selecting) return;
		e.preventDefault();
		e.stopPropagation();
		selecting = false;
		const r = rectFrom(e);
		if (r.width > 10 && r.height > 10) {
			cleanup();
			resolve(JSON.stringify(Object.assign(r, { dpr: window.devicePixelRatio || 1 })));
			return;
		}
		overlay.style.setProperty('background-color', 'rgba(0, 0, 0, 0.5)', 'important');
		box.style.setProperty('display', 'none', 'important');
		box.style.setProperty('box-shadow', 'none', 'important');
		label.style.setProperty('display', 'none', 'important');
	};
	document.addEventListener('keydown', onKey, true);
	document.addEventListener('mousemove', onMove, true);
	document.addEventListener('mouseup', onUp, true);
	overlay.addEventListener('mousedown', (e) => {
		e.preventDefault();
		e.stopPropagation();
		startX = e.clientX;
		startY = e.clientY;
		selecting = true;
		overlay.style.setProperty('background-color', 'transparent', 'important');
		box.style.setProperty('display', 'block', 'important');
		box.style.setProperty('left', startX + 'px', 'important');
		box.style.setProperty('top', startY + 'px', 'important');
		box.style.setProperty('width', '0px', 'important');
		box.style.setProperty('height', '0px', 'important');
	}, true);
})`

// areaCleanupScript removes a selection overlay left behind by an abandoned
// SelectArea call.
const areaCleanupScript = `() => {
	['__pagesaverOverlay', '__pagesaverSelection', '__pagesaverDimension', '__pagesaverHint']
		.forEach((id) => { const el = document.getElementById(id); if (el) el.remove(); });
	return JSON.stringify(true);
}`
