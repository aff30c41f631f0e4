package collector

// SampleJS enumerates mounted message nodes, stamps their asset nodes with
// cfg.attr and returns the identity fields and outer HTML of each.
// In channel mode sender, timestamp and avatar live in a header container
// up to five levels above the id-bearing node, and posts whose replies
// are collapsed are listed in threads with their button stamped by
// cfg.threadAttr. Inside a thread view cfg.thread names the thread every
// item belongs to.
const SampleJS = `(cfg) => {
	const q = (root, sel) => (root && sel) ? root.querySelector(sel) : null;
	const qa = (root, sel) => (root && sel) ? Array.from(root.querySelectorAll(sel)) : [];
	const text = (el) => el ? (el.textContent || '').replace(/\s+/g, ' ').trim() : '';
	const box = q(document, cfg.container);
	if (!box) return {container: false};

	window.__sbxAssetSeq = window.__sbxAssetSeq || 0;
	const stamp = (el) => {
		if (el && !el.hasAttribute(cfg.attr)) el.setAttribute(cfg.attr, String(++window.__sbxAssetSeq));
	};
	const midOf = (el) => {
		if (!el) return '';
		let id = el.getAttribute('data-mid') || '';
		if (!id && cfg.messageId) {
			const m = el.querySelector(cfg.messageId);
			if (m) id = m.getAttribute('data-mid') || m.id || '';
		}
		return id;
	};
	const threadIdOf = (tc) => {
		let id = midOf(tc);
		if (!id) {
			const m = tc.querySelector('[data-mid]');
			if (m) id = m.getAttribute('data-mid') || '';
		}
		return id;
	};
	const headerOf = (node) => {
		let el = node;
		for (let i = 0; i < 5; i++) {
			el = el.parentElement;
			if (!el) break;
			if ((q(el, cfg.sender) || q(el, cfg.senderFallback)) && q(el, cfg.timestamp)) return el;
		}
		return null;
	};

	const items = [];
	qa(document, cfg.message).forEach((node, slot) => {
		const header = cfg.channel ? headerOf(node) : null;
		const meta = header || node;
		const content = q(node, cfg.content);
		if (content) {
			const forced = qa(content, cfg.forceShot);
			forced.forEach(stamp);
			content.querySelectorAll('img').forEach((img) => {
				if (!forced.some((f) => f.contains(img))) stamp(img);
			});
		}
		stamp(q(meta, cfg.avatar) || q(meta, cfg.avatarFallback));
		qa(q(node, cfg.reactionSummary), cfg.reactionPill).forEach(stamp);

		const ts = q(meta, cfg.timestamp);
		let threadId = '', subject = '';
		if (cfg.thread) {
			threadId = cfg.thread.id;
			subject = cfg.thread.subject;
		} else if (cfg.channel && cfg.threadContainer) {
			const tc = node.closest(cfg.threadContainer);
			if (tc) {
				threadId = threadIdOf(tc);
				subject = text(q(tc, cfg.subjectLine));
			}
		}
		items.push({
			nativeId: midOf(node),
			author: text(q(meta, cfg.sender) || q(meta, cfg.senderFallback)),
			timestamp: ts ? (ts.getAttribute('title') || text(ts)) : '',
			text: text(content),
			html: node.outerHTML,
			contextHtml: header ? header.outerHTML : '',
			threadId: threadId,
			subject: subject,
			slot: slot
		});
	});

	const threads = [];
	if (cfg.channel && !cfg.thread && cfg.threadContainer && cfg.replyButton) {
		qa(document, cfg.threadContainer).forEach((tc) => {
			const btn = q(tc, cfg.replyButton);
			const id = btn ? threadIdOf(tc) : '';
			if (!id) return;
			btn.setAttribute(cfg.threadAttr, id);
			threads.push({id: id, subject: text(q(tc, cfg.subjectLine))});
		});
	}

	return {
		container: true,
		scrollTop: box.scrollTop,
		scrollHeight: box.scrollHeight,
		title: text(q(document, cfg.title)),
		url: location.href,
		items: items,
		threads: threads
	};
}`
