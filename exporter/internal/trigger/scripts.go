package trigger

// InjectJS adds the fixed-position export button unless it already exists.
// Args: id, label, sentinel. Returns "injected" or "already_injected".
const InjectJS = `(id, label, sentinel) => {
	if (document.getElementById(id)) return 'already_injected';
	const b = document.createElement('button');
	b.id = id;
	b.type = 'button';
	b.textContent = label;
	Object.assign(b.style, {
		position: 'fixed', bottom: '20px', right: '20px', zIndex: '2147483647',
		padding: '10px 16px', borderRadius: '6px', border: 'none',
		background: '#5b5fc7', color: '#fff', font: '14px sans-serif',
		cursor: 'pointer', boxShadow: '0 2px 6px rgba(0,0,0,.3)'
	});
	b.addEventListener('click', () => {
		if (b.textContent === sentinel) return;
		b.textContent = sentinel;
		b.disabled = true;
		b.style.background = '#888';
		b.style.cursor = 'wait';
	});
	(document.body || document.documentElement).appendChild(b);
	return 'injected';
}`

// ReadJS returns the button text or null when it is gone. Args: id.
const ReadJS = `(id) => {
	const b = document.getElementById(id);
	return b ? b.textContent : null;
}`

// DisarmJS removes the button and shows a transient notice. A toast
// rather than alert(): a modal dialog would block every later evaluation.
// Args: id, notice.
const DisarmJS = `(id, notice) => {
	const b = document.getElementById(id);
	if (b) b.remove();
	if (!notice) return 'removed';
	const n = document.createElement('div');
	n.textContent = notice;
	Object.assign(n.style, {
		position: 'fixed', bottom: '20px', right: '20px', zIndex: '2147483647',
		padding: '12px 16px', borderRadius: '6px', background: '#237b4b',
		color: '#fff', font: '14px sans-serif', maxWidth: '360px'
	});
	(document.body || document.documentElement).appendChild(n);
	setTimeout(() => n.remove(), 10000);
	return 'removed';
}`
