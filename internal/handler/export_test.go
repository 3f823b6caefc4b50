package handler

import "context"

type CaptureOptions = captureOptions

type CaptureConn = captureConn

func (h *CaptureHandler) Serve(ctx context.Context, conn CaptureConn, opts CaptureOptions) {
	h.serve(ctx, conn, opts)
}
